package config

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Separator joins the segments of a nested configuration key.
const Separator = ":"

// Block is a flat, ordered key/value configuration store. Nested sections
// of a configuration file become prefixed keys such as "solver:num_threads".
// Values are kept as strings and converted by the typed getters, so a
// Block round-trips through any of the supported file formats.
type Block struct {
	keys         []string
	values       map[string]string
	descriptions map[string]string
}

// NewBlock returns an empty Block.
func NewBlock() *Block {
	return &Block{
		values:       make(map[string]string),
		descriptions: make(map[string]string),
	}
}

// Set stores value under key, keeping the key's original position if it
// already exists.
func (b *Block) Set(key, value string) {
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.values[key] = value
}

// SetValue formats v and stores it under key with a description.
func (b *Block) SetValue(key string, v interface{}, description string) {
	b.Set(key, FormatValue(v))
	if description != "" {
		b.descriptions[key] = description
	}
}

// FormatValue renders a scalar the way Block stores it.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case fmt.Stringer:
		return x.String()
	case []interface{}:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatValue(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}

// Has reports whether key is present.
func (b *Block) Has(key string) bool {
	_, ok := b.values[key]
	return ok
}

// Get returns the raw value for key.
func (b *Block) Get(key string) (string, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Description returns the help text recorded for key.
func (b *Block) Description(key string) string {
	return b.descriptions[key]
}

// Keys returns the keys in insertion order.
func (b *Block) Keys() []string {
	return append([]string(nil), b.keys...)
}

// Len returns the number of keys.
func (b *Block) Len() int {
	return len(b.keys)
}

// GetString returns the value for key or def when absent.
func (b *Block) GetString(key, def string) string {
	if v, ok := b.values[key]; ok {
		return v
	}
	return def
}

// GetBool returns the value for key parsed as a bool, or def when absent.
func (b *Block) GetBool(key string, def bool) (bool, error) {
	v, ok := b.values[key]
	if !ok {
		return def, nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("%s: invalid bool %q", key, v)
	}
	return parsed, nil
}

// GetFloat returns the value for key parsed as a float64, or def when absent.
func (b *Block) GetFloat(key string, def float64) (float64, error) {
	v, ok := b.values[key]
	if !ok {
		return def, nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return parsed, nil
}

// GetInt returns the value for key parsed as an int, or def when absent.
func (b *Block) GetInt(key string, def int) (int, error) {
	v, ok := b.values[key]
	if !ok {
		return def, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return parsed, nil
}

// GetInt64List returns a comma separated value parsed as int64s. An absent
// key or empty value yields nil.
func (b *Block) GetInt64List(key string) ([]int64, error) {
	v, ok := b.values[key]
	if !ok || strings.TrimSpace(v) == "" {
		return nil, nil
	}
	parts := strings.Split(v, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid integer %q in list", key, p)
		}
		out = append(out, n)
	}
	return out, nil
}

// Merge copies every key of other into b, overwriting existing values.
func (b *Block) Merge(other *Block) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		b.Set(k, other.values[k])
		if d, ok := other.descriptions[k]; ok {
			b.descriptions[k] = d
		}
	}
}

// Clone returns a deep copy.
func (b *Block) Clone() *Block {
	out := NewBlock()
	out.Merge(b)
	return out
}

// Subblock returns the keys under prefix with the prefix removed.
func (b *Block) Subblock(prefix string) *Block {
	out := NewBlock()
	p := prefix + Separator
	for _, k := range b.keys {
		if strings.HasPrefix(k, p) {
			rest := strings.TrimPrefix(k, p)
			out.Set(rest, b.values[k])
			if d, ok := b.descriptions[k]; ok {
				out.descriptions[rest] = d
			}
		}
	}
	return out
}

// AddPrefixed stores every key of other under prefix.
func (b *Block) AddPrefixed(prefix string, other *Block) {
	for _, k := range other.keys {
		key := prefix + Separator + k
		b.Set(key, other.values[k])
		if d, ok := other.descriptions[k]; ok {
			b.descriptions[key] = d
		}
	}
}

// Map returns the key/value pairs as a plain map.
func (b *Block) Map() map[string]string {
	out := make(map[string]string, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// WriteJSON writes the block as a flat JSON object with sorted keys.
func (b *Block) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b.Map())
}

// WriteText writes "key = value  # description" lines in insertion order.
func (b *Block) WriteText(w io.Writer) error {
	width := 0
	for _, k := range b.keys {
		if len(k) > width {
			width = len(k)
		}
	}
	for _, k := range b.keys {
		line := fmt.Sprintf("%-*s = %s", width, k, b.values[k])
		if d := b.descriptions[k]; d != "" {
			line += "  # " + d
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// FromMap flattens a decoded configuration document into a Block. Nested
// maps become Separator-joined keys; sibling keys are added in sorted order.
func FromMap(m map[string]interface{}) (*Block, error) {
	b := NewBlock()
	if err := flatten(b, "", m); err != nil {
		return nil, err
	}
	return b, nil
}

func flatten(b *Block, prefix string, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + Separator + k
		}
		switch v := m[k].(type) {
		case map[string]interface{}:
			if err := flatten(b, key, v); err != nil {
				return err
			}
		case nil:
			b.Set(key, "")
		case []interface{}:
			for _, e := range v {
				if _, nested := e.(map[string]interface{}); nested {
					return fmt.Errorf("%s: lists of tables are not supported", key)
				}
			}
			b.Set(key, FormatValue(v))
		default:
			b.Set(key, FormatValue(v))
		}
	}
	return nil
}
