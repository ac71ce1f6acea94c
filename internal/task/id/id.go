// Package id provides unique identifier generation for tasks.
package id

import "github.com/lithammer/shortuuid/v4"

// Generate creates a new unique task ID.
// Format: task-<shortuuid>
// Example: task-vytxeTZskVKR7C7WgdSP3d
func Generate() string {
	return "task-" + shortuuid.New()
}
