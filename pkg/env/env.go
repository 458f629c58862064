package env

import (
	"os"
	"strings"
)

// Get returns the value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Instance identifies the running process for logs and lock owners
// (DYNO on Heroku-style hosts, HOSTNAME in containers).
func Instance() string {
	for _, key := range []string{"DYNO", "HOSTNAME"} {
		if v := Get(key, ""); v != "" {
			return v
		}
	}
	return "local"
}
