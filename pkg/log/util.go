package log

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// badKey names values that arrive without a usable key.
const badKey = "!BADKEY"

// toFields turns loosely typed key-value arguments into zap fields.
//
// zap.Field arguments pass through and a bare error becomes the "error"
// field. A trailing value without a key is logged under badKey, and a
// non-string key is formatted with fmt.
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for len(args) > 0 {
		switch v := args[0].(type) {
		case zap.Field:
			fields = append(fields, v)
			args = args[1:]
			continue
		case error:
			fields = append(fields, zap.Error(v))
			args = args[1:]
			continue
		}

		if len(args) == 1 {
			fields = append(fields, zap.Any(badKey, args[0]))
			break
		}

		key, ok := args[0].(string)
		if !ok {
			key = fmt.Sprint(args[0])
		}
		fields = append(fields, field(key, args[1]))
		args = args[2:]
	}
	return fields
}

func field(key string, val any) zap.Field {
	switch v := val.(type) {
	case []byte:
		// Raw packets read better as spaced hex than base64.
		return zap.String(key, fmt.Sprintf("% X", v))
	case error:
		return zap.NamedError(key, v)
	case time.Time:
		return zap.Time(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}
