package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// piiFields are replaced by salted hashes when redaction is on.
var piiFields = []string{"client_name"}

func redactRecord(rec Record, salt []byte) Record {
	rec.Changes = redactChanges(rec.Changes, salt)
	return rec
}

func redactChanges(raw json.RawMessage, salt []byte) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var changes map[string]any
	if err := json.Unmarshal(raw, &changes); err != nil {
		payload := map[string]any{
			"changes_hash":    hashBytes(raw, salt),
			"redaction_error": "invalid_json",
		}
		b, _ := json.Marshal(payload)
		return b
	}
	for _, key := range piiFields {
		v, ok := changes[key]
		if !ok {
			continue
		}
		delete(changes, key)
		s, _ := v.(string)
		if s == "" {
			changes[key+"_hash"] = ""
			continue
		}
		changes[key+"_hash"] = hashString(s, salt)
	}
	b, err := json.Marshal(changes)
	if err != nil {
		return raw
	}
	return b
}

func hashString(v string, salt []byte) string {
	return hashBytes([]byte(v), salt)
}

func hashBytes(b []byte, salt []byte) string {
	h := sha256.New()
	if len(salt) > 0 {
		_, _ = h.Write(salt)
	}
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
