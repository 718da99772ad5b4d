package downloader

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateInstanceID returns an id unique to this process, used as the
// owner of storage locks. It reads as "host-pid-suffix" in logs.
func GenerateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
