package pool

import "github.com/google/uuid"

// containerName generates a name that is unique per process by construction:
// a random suffix of at least 8 characters, per the platform's container
// naming policy.
func containerName(prefix string) string {
	if prefix == "" {
		prefix = "serverlessd"
	}
	return prefix + "-" + uuid.New().String()[:12]
}
