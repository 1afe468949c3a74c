package stdlib

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CollectionsLib provides generic helpers over the values the engine
// exports from JS: objects arrive as map[string]any, arrays as []any.
type CollectionsLib struct{}

// Chunk splits list into slices of at most size elements.
// A size below 1 yields a single chunk containing the whole list.
func (c *CollectionsLib) Chunk(list []any, size int64) [][]any {
	if size < 1 {
		if len(list) == 0 {
			return [][]any{}
		}
		return [][]any{list}
	}
	n := int(size)
	chunks := make([][]any, 0, (len(list)+n-1)/n)
	for i := 0; i < len(list); i += n {
		end := i + n
		if end > len(list) {
			end = len(list)
		}
		chunks = append(chunks, list[i:end])
	}
	return chunks
}

// Unique removes duplicates, preserving first-seen order.
// Equality is by serialized form so objects and arrays dedupe too.
func (c *CollectionsLib) Unique(list []any) []any {
	seen := make(map[string]struct{}, len(list))
	out := make([]any, 0, len(list))
	for _, v := range list {
		key := canonicalKey(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Flatten flattens one level of nesting; pass deep=true to flatten
// recursively.
func (c *CollectionsLib) Flatten(list []any, deep bool) []any {
	out := make([]any, 0, len(list))
	for _, v := range list {
		if inner, ok := v.([]any); ok {
			if deep {
				out = append(out, c.Flatten(inner, true)...)
			} else {
				out = append(out, inner...)
			}
			continue
		}
		out = append(out, v)
	}
	return out
}

// GroupBy buckets list elements by the string form of fn's return value.
func (c *CollectionsLib) GroupBy(list []any, fn func(any) any) map[string][]any {
	out := make(map[string][]any)
	for _, v := range list {
		key := fmt.Sprintf("%v", fn(v))
		out[key] = append(out[key], v)
	}
	return out
}

// Partition splits list into [matching, rest] according to the predicate.
func (c *CollectionsLib) Partition(list []any, fn func(any) bool) [][]any {
	yes := make([]any, 0, len(list))
	no := make([]any, 0, len(list))
	for _, v := range list {
		if fn(v) {
			yes = append(yes, v)
		} else {
			no = append(no, v)
		}
	}
	return [][]any{yes, no}
}

// KeyBy indexes list elements by the string form of fn's return value.
// Later elements overwrite earlier ones on key collision.
func (c *CollectionsLib) KeyBy(list []any, fn func(any) any) map[string]any {
	out := make(map[string]any, len(list))
	for _, v := range list {
		out[fmt.Sprintf("%v", fn(v))] = v
	}
	return out
}

// Get resolves a dot-path ("a.b.c") against a nested object, returning
// def when any segment is absent or not an object.
func (c *CollectionsLib) Get(obj map[string]any, path string, def any) any {
	cur := any(obj)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		cur, ok = m[seg]
		if !ok {
			return def
		}
	}
	return cur
}

// Set assigns val at a dot-path, creating intermediate objects as needed.
// Existing non-object intermediates are overwritten. Returns the mutated obj.
func (c *CollectionsLib) Set(obj map[string]any, path string, val any) map[string]any {
	segs := strings.Split(path, ".")
	cur := obj
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = val
	return obj
}

// Pick copies only the named keys from obj.
func (c *CollectionsLib) Pick(obj map[string]any, keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Omit copies obj without the named keys.
func (c *CollectionsLib) Omit(obj map[string]any, keys []string) map[string]any {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if _, skip := drop[k]; !skip {
			out[k] = v
		}
	}
	return out
}

// Clone deep-copies a JSON-serializable value via a full
// serialize/deserialize round trip. Non-serializable values fail.
func (c *CollectionsLib) Clone(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not cloneable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("value is not cloneable: %w", err)
	}
	return out, nil
}

// IsEmpty reports whether v is null/undefined, an empty string, an empty
// array, or an object with no keys. Numbers and booleans are never empty.
func (c *CollectionsLib) IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// canonicalKey builds a comparable identity for Unique. Primitives use
// their printed form prefixed by type; composites use JSON.
func canonicalKey(v any) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case string:
		return "s:" + t
	case bool:
		return fmt.Sprintf("b:%v", t)
	case int64:
		return fmt.Sprintf("n:%v", float64(t))
	case float64:
		return fmt.Sprintf("n:%v", t)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("x:%v", v)
		}
		return "j:" + string(data)
	}
}
