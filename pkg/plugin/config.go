package plugin

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeConfig decodes a plugin's raw configuration map into out, a pointer to
// a struct with `mapstructure` tags. Strings are accepted for durations and
// numbers; unknown keys are rejected.
func DecodeConfig(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("invalid plugin config: %w", err)
	}
	return nil
}
