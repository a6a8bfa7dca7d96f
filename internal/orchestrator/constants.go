package orchestrator

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Timeout constants for different operations
var (
	// DefaultWorkflowTimeout bounds a whole sync run, including every build
	DefaultWorkflowTimeout = getTimeoutOrDefault("WORKFLOW_TIMEOUT", 24*time.Hour, 30*time.Second)
	// LoginRetryCount is the number of retries for registry login
	LoginRetryCount = uint64(getRetryCountOrDefault("LOGIN_RETRY_COUNT", 3, 1))
	// LoginRetryDelay is the initial delay for exponential backoff between login attempts
	LoginRetryDelay = getTimeoutOrDefault("LOGIN_RETRY_DELAY", 2*time.Second, 10*time.Millisecond)
)

// Defaults applied to an empty SyncConfig
const (
	DefaultWorkers   = 4
	MaxWorkers       = 64
	DefaultLatestTag = "latest"
)

// isTestEnvironment detects if we're running in a test environment
func isTestEnvironment() bool {
	for _, arg := range os.Args {
		if strings.Contains(arg, ".test") || strings.Contains(arg, "go test") {
			return true
		}
	}
	return os.Getenv("GO_TEST") == "true" || os.Getenv("TEST_MODE") == "true"
}

// getTimeoutOrDefault returns production timeout or test timeout based on environment
func getTimeoutOrDefault(envVar string, prodDefault, testDefault time.Duration) time.Duration {
	if env := os.Getenv(envVar); env != "" {
		if duration, err := time.ParseDuration(env); err == nil {
			return duration
		}
	}
	if isTestEnvironment() {
		return testDefault
	}
	return prodDefault
}

// getRetryCountOrDefault returns production retry count or test retry count based on environment
func getRetryCountOrDefault(envVar string, prodDefault, testDefault int) int {
	if env := os.Getenv(envVar); env != "" {
		if count, err := strconv.Atoi(env); err == nil {
			return count
		}
	}
	if isTestEnvironment() {
		return testDefault
	}
	return prodDefault
}
