package cloud

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Decode unmarshals a loosely typed JSON value (usually map[string]any from a CPI request)
// into a strongly typed struct using `json` tags. Weak typing is enabled so numbers sent as
// strings and the like still decode.
func Decode[T any](input any) (*T, error) {
	var result T

	config := &mapstructure.DecoderConfig{
		Result:           &result,
		WeaklyTypedInput: true,
		TagName:          "json",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(input); err != nil {
		return nil, fmt.Errorf("decoding %T: %w", result, err)
	}

	return &result, nil
}

// TypeName names the JSON type of a decoded value for error messages.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32, uint, uint64:
		return "number"
	case []any, []string:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
