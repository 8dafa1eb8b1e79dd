package instance

import (
	"os"

	"github.com/angelmondragon/marina-backend/pkg/env"
)

// GetID identifies the running replica in logs: WORKER_ID, then the platform
// dyno name, then the host name.
func GetID() string {
	if id := env.Get("WORKER_ID", env.Get("DYNO", "")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
