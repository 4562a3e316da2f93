package retrieval

import "fmt"

// stageError wraps a fatal error with the stage it occurred in, matching
// the "retrieval failed: <cause>" propagation shape required by spec.
func stageError(stage string, err error) error {
	return fmt.Errorf("retrieval failed: %s: %w", stage, err)
}
