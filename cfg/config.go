// Package cfg defines the blockfs process configuration: the flags a
// shell invocation accepts, bound through pflag/viper the way the
// teacher binds its own mount flags, and decoded into a single Config.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for a blockfs shell
// invocation.
type Config struct {
	Device DeviceConfig `yaml:"device"`

	Debug DebugConfig `yaml:"debug"`

	Logging LoggingConfig `yaml:"logging"`
}

// DeviceConfig controls the geometry of the in-memory block device a
// fresh mkfs lays a filesystem onto.
type DeviceConfig struct {
	BlockSizeBytes uint32 `yaml:"block-size-bytes" mapstructure:"block-size-bytes"`

	BlockCount uint32 `yaml:"block-count" mapstructure:"block-count"`

	NodeCount uint32 `yaml:"node-count" mapstructure:"node-count"`
}

// DebugConfig controls internal diagnostics, mirroring the teacher's own
// debug surface rather than anything GCS-specific.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation" mapstructure:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex" mapstructure:"log-mutex"`
}

// LoggingConfig controls internal/logger's output.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`
}

// BindFlags registers every blockfs flag on flagSet and binds it to the
// matching viper key, following the teacher's flagSet-then-BindPFlag
// pattern in cfg/config.go.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.Uint32P("block-size-bytes", "", 512, "Size, in bytes, of a single block on the backing device.")
	if err = viper.BindPFlag("device.block-size-bytes", flagSet.Lookup("block-size-bytes")); err != nil {
		return err
	}

	flagSet.Uint32P("block-count", "", 4096, "Number of blocks on the backing device.")
	if err = viper.BindPFlag("device.block-count", flagSet.Lookup("block-count")); err != nil {
		return err
	}

	flagSet.Uint32P("node-count", "", 1024, "Number of node-table slots (maximum live files and directories).")
	if err = viper.BindPFlag("device.node-count", flagSet.Lookup("node-count")); err != nil {
		return err
	}

	flagSet.BoolP("debug-invariants", "", false, "Panic immediately when an internal invariant is violated.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug-invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug-mutex", "", false, "Sets debug.log-mutex; no component reads this setting, so it has no effect.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug-mutex")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Logging severity: TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	return nil
}
