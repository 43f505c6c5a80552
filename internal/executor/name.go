package executor

import "github.com/google/uuid"

// randomSuffix returns a short unique token used for staged filenames and
// cold-started container names.
func randomSuffix() string {
	return uuid.New().String()[:12]
}
