package domain

import (
	"encoding/json"
	"reflect"
)

// Well-known extension keys
const (
	ExtOpenExternalPort = "open_external_port"
	ExtOpenPorts        = "open_ports"
	ExtPortScan         = "port_scan"
	ExtSSHHostKey       = "ssh_host_key"
	ExtPublicAddr       = "public_addr"
	ExtPathTarget       = "path_target"
	ExtHopIndex         = "hop_index"
)

// NoOpenPort is recorded under ExtOpenExternalPort when a scan found nothing,
// so the scan is still memoized.
const NoOpenPort = 0

// Extensions is the open key/value bag carried by nodes and edges.
//
// Values are kept in their JSON-decoded form (float64, string, bool,
// []any, map[string]any) so that a record reloaded from storage compares
// equal to the one that was written.
type Extensions map[string]any

// Set stores value under key in its JSON-decoded form
func (e Extensions) Set(key string, value any) {
	e[key] = normalizeValue(value)
}

// Get returns the value stored under key
func (e Extensions) Get(key string) (any, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e[key]
	return v, ok
}

// Has reports whether key is present
func (e Extensions) Has(key string) bool {
	_, ok := e.Get(key)
	return ok
}

// Int returns the value under key as an int
func (e Extensions) Int(key string) (int, bool) {
	v, ok := e.Get(key)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// Ints returns the value under key as a slice of ints
func (e Extensions) Ints(key string) ([]int, bool) {
	v, ok := e.Get(key)
	if !ok {
		return nil, false
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		n, ok := toInt(item)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

// String returns the value under key as a string
func (e Extensions) String(key string) (string, bool) {
	v, ok := e.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Union returns a new map holding every key of e and incoming, with
// incoming values winning on conflict.
func (e Extensions) Union(incoming Extensions) Extensions {
	out := make(Extensions, len(e)+len(incoming))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	for k, v := range incoming {
		out[k] = normalizeValue(v)
	}
	return out
}

// Clone returns a deep copy
func (e Extensions) Clone() Extensions {
	if e == nil {
		return make(Extensions)
	}
	out := make(Extensions, len(e))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	return out
}

// Equal compares two maps, treating nil and empty as equal
func (e Extensions) Equal(o Extensions) bool {
	if len(e) == 0 && len(o) == 0 {
		return true
	}
	return reflect.DeepEqual(map[string]any(e), map[string]any(o))
}

func normalizeValue(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), n == float64(int(n))
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
