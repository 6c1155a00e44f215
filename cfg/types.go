package cfg

import (
	"fmt"
	"slices"
	"strings"
)

// LogSeverity represents the logging severity and can accept the
// following values: "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF".
type LogSeverity string

const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

var validSeverities = []string{
	string(TraceLogSeverity), string(DebugLogSeverity), string(InfoLogSeverity),
	string(WarningLogSeverity), string(ErrorLogSeverity), string(OffLogSeverity),
}

// UnmarshalText lets viper/mapstructure decode a flag or config-file
// string directly into a LogSeverity, validating it in the process.
func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := strings.ToUpper(string(text))
	if !slices.Contains(validSeverities, level) {
		return fmt.Errorf("invalid log severity: %s. Must be one of %v", text, validSeverities)
	}
	*l = LogSeverity(level)
	return nil
}
