package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup returns the trimmed value of key and whether it is set and non-blank
func lookup(key string) (string, bool) {
	val, ok := os.LookupEnv(key)
	val = strings.TrimSpace(val)
	return val, ok && val != ""
}

// parsed reads key through parse, keeping fallback when unset or malformed
func parsed[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw, ok := lookup(key)
	if !ok {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}

// GetString returns the variable or fallback
func GetString(key, fallback string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return fallback
}

func GetInt(key string, fallback int) int {
	return parsed(key, fallback, strconv.Atoi)
}

func GetBool(key string, fallback bool) bool {
	return parsed(key, fallback, strconv.ParseBool)
}

func GetFloat(key string, fallback float64) float64 {
	return parsed(key, fallback, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// GetDuration accepts Go durations ("800ms", "30s")
func GetDuration(key string, fallback time.Duration) time.Duration {
	return parsed(key, fallback, time.ParseDuration)
}
