package api

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// Params is the opaque key/value payload carried forward between steps.
// Each handler reads the keys it needs and extends the payload for its
// successors. It round-trips through a JSON column in storage.
type Params map[string]any

var ErrScanParams = errors.New("cannot scan params value")

// Merge returns a copy of p with the entries of other layered on top
func (p Params) Merge(other Params) Params {
	res := make(Params, len(p)+len(other))
	maps.Copy(res, p)
	maps.Copy(res, other)
	return res
}

// String returns the string value for key, or "" when absent or not a
// string
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Uint64 returns the integer value for key. JSON decoding produces
// float64 for numbers, so both representations are accepted
func (p Params) Uint64(key string) (uint64, bool) {
	switch v := p[key].(type) {
	case uint64:
		return v, true
	case int:
		if v >= 0 {
			return uint64(v), true
		}
	case float64:
		if v >= 0 {
			return uint64(v), true
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n >= 0 {
			return uint64(n), true
		}
	}
	return 0, false
}

// Value implements driver.Valuer so Params can be written to a JSON
// column directly
func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for reading Params back out of storage
func (p *Params) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = Params{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("%w: %T", ErrScanParams, src)
	}
}
