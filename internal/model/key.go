package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ─── Key ────────────────────────────────────────────────────

// KeyKind tells which variant a Key holds.
type KeyKind uint8

const (
	KeyInvalid KeyKind = iota
	KeyInt
	KeyString
)

// Key identifies trains and stations. It is either an integer or a string;
// IntKey(1) and StringKey("1") are different keys.
//
// The zero Key is invalid and never equals a real key.
type Key struct {
	kind KeyKind
	i    int64
	s    string
}

// IntKey returns an integer key.
func IntKey(v int64) Key { return Key{kind: KeyInt, i: v} }

// StringKey returns a string key.
func StringKey(v string) Key { return Key{kind: KeyString, s: v} }

// Kind returns the key variant.
func (k Key) Kind() KeyKind { return k.kind }

// IsZero reports whether the key was never set.
func (k Key) IsZero() bool { return k.kind == KeyInvalid }

// Int returns the integer value and true for integer keys.
func (k Key) Int() (int64, bool) { return k.i, k.kind == KeyInt }

// Str returns the string value and true for string keys.
func (k Key) Str() (string, bool) { return k.s, k.kind == KeyString }

// String returns the canonical projection: "i:<n>" or "s:<text>".
// It is used as the storage key and for lexical ordering.
func (k Key) String() string {
	switch k.kind {
	case KeyInt:
		return "i:" + strconv.FormatInt(k.i, 10)
	case KeyString:
		return "s:" + k.s
	default:
		return ""
	}
}

// Display returns the bare value without the type tag.
func (k Key) Display() string {
	switch k.kind {
	case KeyInt:
		return strconv.FormatInt(k.i, 10)
	case KeyString:
		return k.s
	default:
		return "<invalid>"
	}
}

// Less orders keys lexically by canonical projection.
func (k Key) Less(other Key) bool { return k.String() < other.String() }

// ParseCanonicalKey decodes the output of Key.String.
func ParseCanonicalKey(s string) (Key, error) {
	switch {
	case strings.HasPrefix(s, "i:"):
		v, err := strconv.ParseInt(s[2:], 10, 64)
		if err != nil {
			return Key{}, fmt.Errorf("key: bad integer key %q", s)
		}
		return IntKey(v), nil
	case strings.HasPrefix(s, "s:"):
		return StringKey(s[2:]), nil
	default:
		return Key{}, fmt.Errorf("key: %q is not a canonical key", s)
	}
}

// ParseKey decodes a key from free text, e.g. a URL path segment.
// Canonical forms are honoured, bare integers become integer keys and
// anything else becomes a string key.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return Key{}, fmt.Errorf("key: empty")
	}
	if k, err := ParseCanonicalKey(s); err == nil {
		return k, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IntKey(v), nil
	}
	return StringKey(s), nil
}

// MarshalJSON encodes integer keys as JSON numbers and string keys as JSON strings.
func (k Key) MarshalJSON() ([]byte, error) {
	switch k.kind {
	case KeyInt:
		return []byte(strconv.FormatInt(k.i, 10)), nil
	case KeyString:
		return json.Marshal(k.s)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a JSON number (integer key) or a JSON string (string key).
func (k *Key) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*k = Key{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = StringKey(s)
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("key: %s is neither an integer nor a string", data)
	}
	*k = IntKey(v)
	return nil
}

// UnmarshalYAML lets seed files write keys as plain scalars:
// 12 decodes to an integer key, "12" and abc to string keys.
func (k *Key) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		*k = IntKey(int64(v))
	case int64:
		*k = IntKey(v)
	case uint64:
		*k = IntKey(int64(v))
	case string:
		*k = StringKey(v)
	default:
		return fmt.Errorf("key: unsupported YAML value %v", raw)
	}
	return nil
}
