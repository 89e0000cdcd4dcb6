package domain

import (
	"bytes"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Payload is the schema-less body of an event. Numbers decode as json.Number
// so amounts keep their exact value.
type Payload map[string]any

// DecodePayload parses a JSON object. An empty input or JSON null yields an
// empty payload.
func DecodePayload(raw []byte) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Payload{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return Payload{}, nil
	}
	return Payload(out), nil
}

// Value implements driver.Valuer.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("payload: unsupported scan type %T", value)
	}
	decoded, err := DecodePayload(raw)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// Hash is the hex sha256 of the canonical JSON encoding. encoding/json sorts
// map keys, so equal payloads hash equally.
func (p Payload) Hash() string {
	if p == nil {
		p = Payload{}
	}
	b, err := json.Marshal(map[string]any(p))
	if err != nil {
		b = []byte(fmt.Sprint(map[string]any(p)))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Clone returns a shallow copy.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// MergeFrom copies every key of other into p, overwriting existing keys.
func (p Payload) MergeFrom(other Payload) {
	for k, v := range other {
		p[k] = v
	}
}

func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns the value at key when it is a string or a number.
func (p Payload) String(key string) (string, bool) {
	switch v := p[key].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int:
		return strconv.Itoa(v), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

var errNotInteger = errors.New("not an integer")

// Int64 returns the value at key as an integer. Numeric strings are accepted.
func (p Payload) Int64(key string) (int64, bool) {
	n, err := toInt64(p[key])
	if err != nil {
		return 0, false
	}
	return n, true
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, errNotInteger
		}
		return int64(f), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errNotInteger
		}
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, errNotInteger
	}
}

// Bool returns the value at key as a boolean. "true"/"false" strings are accepted.
func (p Payload) Bool(key string) (bool, bool) {
	switch v := p[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// Time parses an RFC3339 timestamp at key and normalises it to UTC.
func (p Payload) Time(key string) (time.Time, bool) {
	s, ok := p[key].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Object returns a nested object at key.
func (p Payload) Object(key string) (Payload, bool) {
	switch v := p[key].(type) {
	case map[string]any:
		return Payload(v), true
	case Payload:
		return v, true
	default:
		return nil, false
	}
}

// Without returns a copy of p with the given keys removed.
func (p Payload) Without(keys ...string) Payload {
	out := p.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// ParseTimestamp accepts RFC3339 with or without fractional seconds and
// truncates to microseconds, the precision of the store.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return NormalizeTime(t), nil
}

// NormalizeTime converts to UTC at microsecond precision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
