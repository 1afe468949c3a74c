package stdlib

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// SchemaLib is the entry point of the validation engine. Sandboxed code
// builds validators with std.schema.string(), std.schema.object({...}) and
// so on, then calls safeParse or parse on the resulting node.
//
// Constraint builders mutate the node in place and return it (chaining).
// Nodes are never shared across invocations (every invocation constructs
// its own stdlib), so the mutable builder is safe here.
type SchemaLib struct{}

// String builds a string validator.
func (s *SchemaLib) String() *Node { return &Node{kind: kindString} }

// Number builds a number validator.
func (s *SchemaLib) Number() *Node { return &Node{kind: kindNumber} }

// Boolean builds a boolean validator.
func (s *SchemaLib) Boolean() *Node { return &Node{kind: kindBoolean} }

// Any builds a validator that accepts every value.
func (s *SchemaLib) Any() *Node { return &Node{kind: kindAny} }

// Array builds an array validator whose elements must satisfy item.
func (s *SchemaLib) Array(item *Node) *Node {
	return &Node{kind: kindArray, item: item}
}

// Object builds an object validator from a shape of named field validators.
func (s *SchemaLib) Object(shape map[string]any) (*Node, error) {
	fields := make(map[string]*Node, len(shape))
	keys := make([]string, 0, len(shape))
	for k, v := range shape {
		node, ok := v.(*Node)
		if !ok {
			return nil, fmt.Errorf("shape field %q is not a schema node", k)
		}
		fields[k] = node
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Node{kind: kindObject, shape: fields, shapeKeys: keys}, nil
}

// Optional wraps a validator so that absent and explicit null both pass.
func (s *SchemaLib) Optional(inner *Node) *Node {
	return &Node{kind: kindOptional, inner: inner}
}

// Union builds a validator that passes when any option passes.
func (s *SchemaLib) Union(options ...*Node) *Node {
	return &Node{kind: kindUnion, options: options}
}

// Literal builds a validator matching exactly one value.
func (s *SchemaLib) Literal(v any) *Node {
	return &Node{kind: kindLiteral, literal: v}
}

// Enum builds a validator matching one of the given values.
func (s *SchemaLib) Enum(values ...any) *Node {
	return &Node{kind: kindEnum, enumValues: values}
}

type nodeKind int

const (
	kindString nodeKind = iota
	kindNumber
	kindBoolean
	kindArray
	kindObject
	kindOptional
	kindUnion
	kindLiteral
	kindEnum
	kindAny
)

// check is one chained constraint; checks run in declaration order and
// short-circuit on the first failure.
type check func(v any) error

// Node is a typed validator. See SchemaLib for construction.
type Node struct {
	kind       nodeKind
	checks     []check
	item       *Node
	shape      map[string]*Node
	shapeKeys  []string
	options    []*Node
	literal    any
	enumValues []any
	inner      *Node
}

// --- chainable constraints ---

// Min constrains minimum string length, numeric value, or array length.
func (n *Node) Min(min float64) *Node {
	switch n.kind {
	case kindString:
		n.checks = append(n.checks, func(v any) error {
			if len([]rune(v.(string))) < int(min) {
				return fmt.Errorf("must be at least %d characters", int(min))
			}
			return nil
		})
	case kindNumber:
		n.checks = append(n.checks, func(v any) error {
			if asFloat(v) < min {
				return fmt.Errorf("must be at least %v", min)
			}
			return nil
		})
	case kindArray:
		n.checks = append(n.checks, func(v any) error {
			if len(v.([]any)) < int(min) {
				return fmt.Errorf("must contain at least %d elements", int(min))
			}
			return nil
		})
	}
	return n
}

// Max constrains maximum string length, numeric value, or array length.
func (n *Node) Max(max float64) *Node {
	switch n.kind {
	case kindString:
		n.checks = append(n.checks, func(v any) error {
			if len([]rune(v.(string))) > int(max) {
				return fmt.Errorf("must be at most %d characters", int(max))
			}
			return nil
		})
	case kindNumber:
		n.checks = append(n.checks, func(v any) error {
			if asFloat(v) > max {
				return fmt.Errorf("must be at most %v", max)
			}
			return nil
		})
	case kindArray:
		n.checks = append(n.checks, func(v any) error {
			if len(v.([]any)) > int(max) {
				return fmt.Errorf("must contain at most %d elements", int(max))
			}
			return nil
		})
	}
	return n
}

// Length constrains exact string length.
func (n *Node) Length(length int64) *Node {
	n.checks = append(n.checks, func(v any) error {
		if len([]rune(v.(string))) != int(length) {
			return fmt.Errorf("must be exactly %d characters", length)
		}
		return nil
	})
	return n
}

// Regex constrains strings to match the pattern.
func (n *Node) Regex(pattern string) (*Node, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	n.checks = append(n.checks, func(v any) error {
		if !re.MatchString(v.(string)) {
			return fmt.Errorf("must match pattern %s", pattern)
		}
		return nil
	})
	return n, nil
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Email constrains strings to a plausible email shape.
func (n *Node) Email() *Node {
	n.checks = append(n.checks, func(v any) error {
		if !emailRe.MatchString(v.(string)) {
			return fmt.Errorf("must be a valid email address")
		}
		return nil
	})
	return n
}

// Url constrains strings to absolute URLs.
func (n *Node) Url() *Node {
	n.checks = append(n.checks, func(v any) error {
		u, err := url.Parse(v.(string))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("must be a valid URL")
		}
		return nil
	})
	return n
}

// Nonempty rejects empty strings and empty arrays.
func (n *Node) Nonempty() *Node {
	switch n.kind {
	case kindString:
		n.checks = append(n.checks, func(v any) error {
			if v.(string) == "" {
				return fmt.Errorf("must not be empty")
			}
			return nil
		})
	case kindArray:
		n.checks = append(n.checks, func(v any) error {
			if len(v.([]any)) == 0 {
				return fmt.Errorf("must contain at least 1 elements")
			}
			return nil
		})
	}
	return n
}

// Int constrains numbers to integers.
func (n *Node) Int() *Node {
	n.checks = append(n.checks, func(v any) error {
		f := asFloat(v)
		if f != float64(int64(f)) {
			return fmt.Errorf("must be an integer")
		}
		return nil
	})
	return n
}

// Positive constrains numbers to > 0.
func (n *Node) Positive() *Node {
	n.checks = append(n.checks, func(v any) error {
		if asFloat(v) <= 0 {
			return fmt.Errorf("must be positive")
		}
		return nil
	})
	return n
}

// Negative constrains numbers to < 0.
func (n *Node) Negative() *Node {
	n.checks = append(n.checks, func(v any) error {
		if asFloat(v) >= 0 {
			return fmt.Errorf("must be negative")
		}
		return nil
	})
	return n
}

// --- parsing ---

// SafeParse validates v, returning {success: true, data} on success or
// {success: false, error} with a human-readable message on failure.
func (n *Node) SafeParse(v any) map[string]any {
	if err := n.validate(v); err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	return map[string]any{"success": true, "data": v}
}

// Parse validates v and raises on failure.
func (n *Node) Parse(v any) (any, error) {
	if err := n.validate(v); err != nil {
		return nil, fmt.Errorf("validation failed: %s", err.Error())
	}
	return v, nil
}

func (n *Node) validate(v any) error {
	switch n.kind {
	case kindAny:
		return nil

	case kindOptional:
		// Absent and explicit null are both "present but empty".
		if v == nil {
			return nil
		}
		return n.inner.validate(v)

	case kindString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %s", typeName(v))
		}

	case kindNumber:
		if !isNumber(v) {
			return fmt.Errorf("expected number, got %s", typeName(v))
		}

	case kindBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %s", typeName(v))
		}
		return nil

	case kindArray:
		list, ok := v.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %s", typeName(v))
		}
		for _, c := range n.checks {
			if err := c(list); err != nil {
				return err
			}
		}
		for i, item := range list {
			if err := n.item.validate(item); err != nil {
				return fmt.Errorf("[%d]: %s", i, err.Error())
			}
		}
		return nil

	case kindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object, got %s", typeName(v))
		}
		var failures []string
		for _, key := range n.shapeKeys {
			if err := n.shape[key].validate(obj[key]); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %s", key, err.Error()))
			}
		}
		if len(failures) > 0 {
			return fmt.Errorf("%s", strings.Join(failures, "; "))
		}
		return nil

	case kindUnion:
		for _, opt := range n.options {
			if opt.validate(v) == nil {
				return nil
			}
		}
		return fmt.Errorf("did not match any union option")

	case kindLiteral:
		if !looseEqual(v, n.literal) {
			return fmt.Errorf("expected literal %v", jsonish(n.literal))
		}
		return nil

	case kindEnum:
		for _, allowed := range n.enumValues {
			if looseEqual(v, allowed) {
				return nil
			}
		}
		return fmt.Errorf("expected one of %v", jsonish(n.enumValues))
	}

	// String/number fall through to chained constraints.
	for _, c := range n.checks {
		if err := c(v); err != nil {
			return err
		}
	}
	return nil
}

func isNumber(v any) bool {
	switch v.(type) {
	case int64, float64, int:
		return true
	}
	return false
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// looseEqual compares values after numeric normalization, since the engine
// exports integral JS numbers as int64 and fractional ones as float64.
func looseEqual(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		return asFloat(a) == asFloat(b)
	}
	return a == b
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int64, float64, int:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func jsonish(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
