package cfg

import (
	"github.com/mitchellh/mapstructure"
)

// DecodeHook composes the mapstructure decode hooks viper uses to turn
// raw flag/config-file strings into the Config's custom types, following
// the teacher's own DecodeHook wiring in cfg/decode_hook.go. LogSeverity
// decodes via its UnmarshalText method, picked up by
// TextUnmarshallerHookFunc.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
