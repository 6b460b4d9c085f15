package abac

import "strings"

// Attributes is a flat or nested attribute map. Nested maps are reachable with
// dotted keys.
type Attributes map[string]any

// Context carries everything a condition may read. It is passed explicitly to
// every evaluation.
type Context struct {
	Subject     Attributes
	Resource    Attributes
	Environment Attributes
}

// Lookup resolves a condition key.
//
// user.* and subject.* read the subject, resource.* the resource, env.* and
// environment.* the environment. A bare key reads the resource first and then
// the environment.
func (rc *Context) Lookup(key string) (any, bool) {
	if rc == nil {
		return nil, false
	}
	if prefix, rest, ok := strings.Cut(key, "."); ok {
		switch prefix {
		case "user", "subject":
			return lookup(rc.Subject, rest)
		case "resource":
			return lookup(rc.Resource, rest)
		case "env", "environment":
			return lookup(rc.Environment, rest)
		}
	}
	if v, ok := lookup(rc.Resource, key); ok {
		return v, true
	}
	return lookup(rc.Environment, key)
}

func (rc *Context) value(key string) (Value, bool) {
	raw, ok := rc.Lookup(key)
	if !ok {
		return Value{}, false
	}
	return ValueOf(raw)
}

func lookup(attrs Attributes, key string) (any, bool) {
	if attrs == nil || key == "" {
		return nil, false
	}
	if v, ok := attrs[key]; ok {
		return v, true
	}
	// walk nested maps: "address.country"
	head, rest, ok := strings.Cut(key, ".")
	if !ok {
		return nil, false
	}
	switch nested := attrs[head].(type) {
	case map[string]any:
		return lookup(nested, rest)
	case Attributes:
		return lookup(nested, rest)
	}
	return nil, false
}
