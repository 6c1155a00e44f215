package cfg

// ShouldExitOnInvariantViolation reports whether a violated internal
// invariant should panic the process rather than only being logged.
func ShouldExitOnInvariantViolation(config *Config) bool {
	return config.Debug.ExitOnInvariantViolation
}
