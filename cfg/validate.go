package cfg

import "fmt"

// ValidateConfig returns a non-nil error if the config describes a
// device geometry layout.Geometry could never satisfy.
func ValidateConfig(config *Config) error {
	if config.Device.BlockSizeBytes == 0 {
		return fmt.Errorf("block-size-bytes must be greater than 0")
	}
	if config.Device.BlockCount == 0 {
		return fmt.Errorf("block-count must be greater than 0")
	}
	if config.Device.NodeCount == 0 {
		return fmt.Errorf("node-count must be greater than 0")
	}
	return nil
}
