package message

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Reserved body keys. Payload fields may not use them.
const (
	KeyType      = "type"
	KeyMsgID     = "msg_id"
	KeyInReplyTo = "in_reply_to"
)

// Shape describes one declared payload variant.
type Shape struct {
	Name     string       // Wire discriminator
	GoType   reflect.Type // Struct type, decoded by value
	Required []string     // JSON keys that must be present on decode
	NonNull  []string     // Required keys whose Go type cannot hold null
}

// Registry is the closed set of payload variants a node can decode. The codec consults it
// to turn a "type" discriminator into a concrete payload; anything outside the set is a
// decode error.
//
// Payloads are registered as struct values:
//
//	reg := message.MustRegistry(Echo{}, EchoOk{})
//
// Exported fields whose json tag carries omitempty are optional, every other field is
// required. A required field may be null only if its Go type can hold nil.
type Registry struct {
	mu     sync.RWMutex
	shapes map[string]*Shape
}

// NewRegistry returns a registry holding the given payloads plus the built-in RPCError.
func NewRegistry(payloads ...Payload) (*Registry, error) {
	r := &Registry{shapes: make(map[string]*Shape)}
	if err := r.Register(RPCError{}); err != nil {
		return nil, err
	}
	for _, p := range payloads {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error. Meant for package-level declarations.
func MustRegistry(payloads ...Payload) *Registry {
	r, err := NewRegistry(payloads...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds one payload variant.
func (r *Registry) Register(p Payload) error {
	if p == nil {
		return errors.New("message: cannot register nil payload")
	}
	typ := reflect.TypeOf(p)
	if typ.Kind() != reflect.Struct {
		return fmt.Errorf("message: payload %s must be a struct value, got %s", typ, typ.Kind())
	}
	name := p.Type()
	if name == "" {
		return fmt.Errorf("message: payload %s has an empty type", typ)
	}

	required, nonNull, err := requiredFields(typ)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.shapes[name]; ok {
		return fmt.Errorf("message: type %q already registered by %s", name, prev.GoType)
	}
	r.shapes[name] = &Shape{Name: name, GoType: typ, Required: required, NonNull: nonNull}
	return nil
}

// Lookup returns the shape declared for a discriminator.
func (r *Registry) Lookup(name string) (*Shape, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shapes[name]
	return s, ok
}

// Types returns the declared discriminators in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.shapes))
	for name := range r.shapes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns a pointer to a fresh zero value of the shape's struct type, ready to be
// unmarshalled into.
func (s *Shape) New() any {
	return reflect.New(s.GoType).Interface()
}

// requiredFields walks the exported fields of a payload struct.
func requiredFields(typ reflect.Type) (required, nonNull []string, err error) {
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonName(f)
		if skip {
			continue
		}
		// encoding/json matches keys case-insensitively
		for _, key := range []string{KeyType, KeyMsgID, KeyInReplyTo} {
			if strings.EqualFold(name, key) {
				return nil, nil, fmt.Errorf("message: field %s.%s uses reserved key %q", typ, f.Name, key)
			}
		}
		if omitEmpty {
			continue
		}
		required = append(required, name)
		switch f.Type.Kind() {
		case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		default:
			nonNull = append(nonNull, name)
		}
	}
	return required, nonNull, nil
}

func jsonName(f reflect.StructField) (name string, omitEmpty bool, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = f.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" || opt == "omitzero" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}
