package docstore

import (
	"encoding/json"
	"strconv"
)

// Numeric coerces a stored field value to int64. Backends differ in how they
// hand numbers back (int64 from Firestore, float64 from JSON decoding, raw
// strings from Redis hashes), so readers go through this.
func Numeric(v any) (int64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
