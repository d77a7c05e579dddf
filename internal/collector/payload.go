package collector

import "time"

// Payload is one raw entity as decoded from a JSON page. Values are only
// read through the presence-checked accessors below.
type Payload map[string]any

// Lookup follows path through nested objects
func (p Payload) Lookup(path ...string) (any, bool) {
	var cur any = map[string]any(p)
	for _, key := range path {
		obj, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path; absent keys and non-strings fail
func (p Payload) String(path ...string) (string, bool) {
	v, ok := p.Lookup(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// NullableString accepts a present key holding either a string or JSON null
func (p Payload) NullableString(path ...string) (string, bool) {
	v, ok := p.Lookup(path...)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case nil:
		return "", true
	case string:
		return s, true
	default:
		return "", false
	}
}

// Int returns the integral number at path
func (p Payload) Int(path ...string) (int, bool) {
	v, ok := p.Lookup(path...)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// Time parses the RFC 3339 timestamp at path
func (p Payload) Time(path ...string) (time.Time, bool) {
	s, ok := p.String(path...)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func asObject(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case Payload:
		return obj, true
	default:
		return nil, false
	}
}
