package engine

import (
	"fmt"
	"time"
)

// coerceCell converts a scanned database value into a JSON-friendly
// representation. Timestamps become RFC 3339 UTC strings, byte slices
// become strings, and anything the encoder would not handle falls back
// to fmt.Sprint.
func coerceCell(v any) any {
	switch value := v.(type) {
	case nil:
		return nil
	case time.Time:
		return value.UTC().Format(time.RFC3339)
	case []byte:
		return string(value)
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return value
	default:
		return fmt.Sprint(value)
	}
}
