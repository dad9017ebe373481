package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SafeEnv returns the trimmed value of key, or fallback when it is unset or blank.
func SafeEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// EnvDuration parses key as a time.Duration. Unset keeps fallback.
func EnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	return envParse(key, fallback, time.ParseDuration)
}

// EnvInt parses key as an int. Unset keeps fallback.
func EnvInt(key string, fallback int) (int, error) {
	return envParse(key, fallback, strconv.Atoi)
}

// EnvFloat parses key as a float64. Unset keeps fallback.
func EnvFloat(key string, fallback float64) (float64, error) {
	return envParse(key, fallback, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func envParse[T any](key string, fallback T, parse func(string) (T, error)) (T, error) {
	raw := SafeEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := parse(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
