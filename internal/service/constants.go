package service

import "time"

// Timeout constants for service operations
const (
	// DefaultBuildTimeout bounds one build and push of a single image
	DefaultBuildTimeout = 2 * time.Hour
	// DefaultLoginTimeout is the timeout for registry login
	DefaultLoginTimeout = 60 * time.Second
	// maxErrorOutput caps how much command output is carried into error messages
	maxErrorOutput = 2048
)
