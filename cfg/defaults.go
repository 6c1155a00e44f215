package cfg

// GetDefaultConfig returns the configuration used before any flags or
// config file have been parsed.
func GetDefaultConfig() Config {
	return Config{
		Device: DeviceConfig{
			BlockSizeBytes: DefaultBlockSizeBytes,
			BlockCount:     DefaultBlockCount,
			NodeCount:      DefaultNodeCount,
		},
		Logging: LoggingConfig{
			Severity: InfoLogSeverity,
		},
	}
}
