package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv loads .env and then .env.<mode> when present. Variables that are
// already set in the process environment win over both files.
func LoadEnv(mode string) error {
	files := []string{".env"}
	if mode != "" {
		files = append(files, ".env."+mode)
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return fmt.Errorf("no env file found in %v", files)
	}
	return godotenv.Load(existing...)
}

// GetEnv returns the trimmed value of key
func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// GetStringOrDefault returns key or def when unset
func GetStringOrDefault(key, def string) string {
	if v := GetEnv(key); v != "" {
		return v
	}
	return def
}

// GetIntOrDefault returns key as int or def when unset or malformed
func GetIntOrDefault(key string, def int) int {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

// GetBoolOrDefault returns key as bool or def when unset or malformed
func GetBoolOrDefault(key string, def bool) bool {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// GetDurationOrDefault accepts Go duration strings ("3s", "250ms") as well as
// bare numbers, which are read as seconds ("3.0").
func GetDurationOrDefault(key string, def time.Duration) time.Duration {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	if secs, err := cast.ToFloat64E(v); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return def
	}
	return d
}
