// Package config reads service settings from the environment, optionally seeded
// from a .env file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var loadDotenv = godotenv.Load

// LoadDotenv seeds the process environment from the given files (".env" when none).
// Variables already set win over file values. A missing file is not an error.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := loadDotenv(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func String(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func Int(k string, def int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool accepts 1/true/yes/on, case-insensitive.
func Bool(k string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch raw {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func DurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(Int(k, def))
}

// List splits a comma separated value, dropping blanks.
func List(k string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(k), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func IsProductionLike(environment string) bool {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}

func IsExplicitNonProduction(environment string) bool {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "dev", "development", "local", "test", "testing":
		return true
	default:
		return false
	}
}
