package usage

import (
	"os"
	"os/user"
	"sync"
)

var (
	cachedRunner string
	once         sync.Once
)

// DetectRunner returns the best available name for who is driving the
// engine. Checks in order: REVERIE_RUN_BY env, REVERIE_USER env, the OS
// user name, "unknown". The result is cached after the first call.
func DetectRunner() string {
	once.Do(func() {
		cachedRunner = detectRunnerUncached()
	})
	return cachedRunner
}

// detectRunnerUncached performs detection without caching. Used for testing.
func detectRunnerUncached() string {
	if name := os.Getenv("REVERIE_RUN_BY"); name != "" {
		return name
	}
	if name := os.Getenv("REVERIE_USER"); name != "" {
		return name
	}
	if name := osUserName(); name != "" {
		return name
	}
	return "unknown"
}

// osUserName returns the current OS user name, or empty string on any error.
func osUserName() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}
