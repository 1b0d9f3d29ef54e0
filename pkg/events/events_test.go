package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_ = ctx
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type recordingPublisher struct {
	got []Event
	err error
}

func (r *recordingPublisher) Publish(ctx context.Context, evt Event) error {
	r.got = append(r.got, evt)
	return r.err
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "allocations"}); err == nil {
		t.Fatal("expected error when brokers are missing")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{" ", "\t"}, Topic: "allocations"}); err == nil {
		t.Fatal("expected error when brokers are blank")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}}); err == nil {
		t.Fatal("expected error when topic is missing")
	}
	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{" 127.0.0.1:9092 "}, Topic: "allocations"})
	if err != nil {
		t.Fatalf("expected valid publisher, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestKafkaPublisherKeysByBudget(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	evt := New(AllocationVoided, 5, 42, 1, []string{"payment_status"})
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message got=%d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "42" {
		t.Fatalf("expected budget key 42 got=%q", msg.Key)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != evt.ID || decoded.Type != AllocationVoided || decoded.AllocationID != 5 {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(AllocationVoided) {
		t.Fatalf("unexpected headers: %+v", msg.Headers)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer closed, err=%v", err)
	}
}

func TestKafkaPublisherGuards(t *testing.T) {
	var nilPublisher *KafkaPublisher
	if err := nilPublisher.Close(); err != nil {
		t.Fatalf("expected nil close to be no-op, got %v", err)
	}
	if err := nilPublisher.Publish(context.Background(), Event{}); err == nil {
		t.Fatal("expected publish error for nil publisher")
	}
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}}
	if err := p.Publish(context.Background(), Event{}); err == nil {
		t.Fatal("expected writer error")
	}
}

func TestMultiPublishesToAllAndJoinsErrors(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("down")}
	m := Multi{ok, nil, failing}
	err := m.Publish(context.Background(), New(AllocationCreated, 1, 2, 3, nil))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(ok.got) != 1 || len(failing.got) != 1 {
		t.Fatalf("expected both publishers called, got %d and %d", len(ok.got), len(failing.got))
	}
}
