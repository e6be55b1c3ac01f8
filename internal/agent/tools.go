package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

func (t ParamType) jsonType() ParamType {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return t
	default:
		return TypeString
	}
}

// Param declares one argument of a tool function. Only parameters with a
// Description are exposed to the model.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Optional    bool
}

func String(name, description string) Param  { return Param{Name: name, Type: TypeString, Description: description} }
func Integer(name, description string) Param { return Param{Name: name, Type: TypeInteger, Description: description} }
func Number(name, description string) Param  { return Param{Name: name, Type: TypeNumber, Description: description} }
func Boolean(name, description string) Param { return Param{Name: name, Type: TypeBoolean, Description: description} }
func Array(name, description string) Param   { return Param{Name: name, Type: TypeArray, Description: description} }
func Object(name, description string) Param  { return Param{Name: name, Type: TypeObject, Description: description} }

// Undocumented declares a parameter the model is never told about.
func Undocumented(name string, typ ParamType) Param { return Param{Name: name, Type: typ} }

// WithDefault marks p as optional for binding.
func (p Param) WithDefault() Param {
	p.Optional = true
	return p
}

type Property struct {
	Name        string
	Type        ParamType
	Description string
}

// Descriptor is the model-facing declaration of a registered tool. It is
// built once at registration and never changes.
type Descriptor struct {
	Name        string
	Description string
	Properties  []Property
	Required    []string
}

// Schema renders the JSON schema object for the tool parameters.
func (d Descriptor) Schema() map[string]any {
	props := make(map[string]any, len(d.Properties))
	for _, p := range d.Properties {
		props[p.Name] = map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
	}
	required := make([]string, len(d.Required))
	copy(required, d.Required)
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Args holds decoded, type-checked tool arguments keyed by parameter name.
type Args map[string]any

func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

func (a Args) Int(name string) int64 {
	v, _ := a[name].(int64)
	return v
}

func (a Args) Float(name string) float64 {
	v, _ := a[name].(float64)
	return v
}

func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Func is a tool implementation. A string result is passed to the model as
// is; anything else is JSON-encoded.
type Func func(ctx context.Context, args Args) (any, error)

var ErrToolNotFound = errors.New("tool not found")

type ArgumentDecodeError struct {
	Tool string
	Err  error
}

func (e *ArgumentDecodeError) Error() string {
	return fmt.Sprintf("tool %s: decoding arguments: %v", e.Tool, e.Err)
}

func (e *ArgumentDecodeError) Unwrap() error { return e.Err }

type ArgumentBindingError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ArgumentBindingError) Error() string {
	return fmt.Sprintf("tool %s: argument %q: %s", e.Tool, e.Param, e.Reason)
}

type tool struct {
	desc   Descriptor
	params []Param
	fn     Func
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]*tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*tool)}
}

// Register adds fn under name and returns its descriptor. Parameters without
// a description stay bindable but are left out of the schema.
func (r *Registry) Register(name, description string, fn Func, params ...Param) (Descriptor, error) {
	if name == "" {
		return Descriptor{}, fmt.Errorf("tool name is empty")
	}
	if fn == nil {
		return Descriptor{}, fmt.Errorf("tool %s: function is nil", name)
	}

	desc := Descriptor{Name: name, Description: description}
	seen := make(map[string]bool, len(params))
	bound := make([]Param, 0, len(params))
	for _, p := range params {
		if p.Name == "" {
			return Descriptor{}, fmt.Errorf("tool %s: parameter name is empty", name)
		}
		if seen[p.Name] {
			return Descriptor{}, fmt.Errorf("tool %s: duplicate parameter %s", name, p.Name)
		}
		seen[p.Name] = true
		p.Type = p.Type.jsonType()
		bound = append(bound, p)

		if p.Description == "" {
			slog.Warn("tool parameter has no description, hidden from model", "tool", name, "param", p.Name, "optional", p.Optional)
			continue
		}
		desc.Properties = append(desc.Properties, Property{Name: p.Name, Type: p.Type, Description: p.Description})
		desc.Required = append(desc.Required, p.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return Descriptor{}, fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = &tool{desc: desc, params: bound, fn: fn}
	r.order = append(r.order, name)
	return desc, nil
}

func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Descriptor{}, false
	}
	return t.desc, true
}

// Descriptors returns every tool in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].desc)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoke decodes argumentsJSON as an object, binds it by parameter name and
// calls the tool.
func (r *Registry) Invoke(ctx context.Context, name, argumentsJSON string) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	args, err := t.bind(argumentsJSON)
	if err != nil {
		return nil, err
	}
	return invokeTraced(ctx, name, argumentsJSON, t.fn, args)
}

func (t *tool) bind(raw string) (Args, error) {
	name := t.desc.Name
	if !gjson.Valid(raw) {
		return nil, &ArgumentDecodeError{Tool: name, Err: errors.New("invalid JSON")}
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return nil, &ArgumentDecodeError{Tool: name, Err: fmt.Errorf("expected a JSON object, got %s", parsed.Type)}
	}

	declared := make(map[string]Param, len(t.params))
	for _, p := range t.params {
		declared[p.Name] = p
	}

	args := make(Args, len(t.params))
	var bindErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		p, ok := declared[key.String()]
		if !ok {
			bindErr = &ArgumentBindingError{Tool: name, Param: key.String(), Reason: "unexpected argument"}
			return false
		}
		if value.Type == gjson.Null {
			return true
		}
		v, ok := convert(p.Type, value)
		if !ok {
			bindErr = &ArgumentBindingError{Tool: name, Param: p.Name, Reason: fmt.Sprintf("expected %s, got %s", p.Type, value.Raw)}
			return false
		}
		args[p.Name] = v
		return true
	})
	if bindErr != nil {
		return nil, bindErr
	}

	for _, p := range t.params {
		if !p.Optional && !args.Has(p.Name) {
			return nil, &ArgumentBindingError{Tool: name, Param: p.Name, Reason: "missing required argument"}
		}
	}
	return args, nil
}

func convert(typ ParamType, v gjson.Result) (any, bool) {
	switch typ {
	case TypeInteger:
		if v.Type != gjson.Number || v.Num != float64(int64(v.Num)) {
			return nil, false
		}
		return v.Int(), true
	case TypeNumber:
		if v.Type != gjson.Number {
			return nil, false
		}
		return v.Num, true
	case TypeBoolean:
		if v.Type != gjson.True && v.Type != gjson.False {
			return nil, false
		}
		return v.Bool(), true
	case TypeArray:
		if !v.IsArray() {
			return nil, false
		}
		return v.Value(), true
	case TypeObject:
		if !v.IsObject() {
			return nil, false
		}
		return v.Value(), true
	default:
		if v.Type != gjson.String {
			return nil, false
		}
		return v.Str, true
	}
}

// Content renders a tool result as function message content.
func Content(v any) (string, error) {
	switch r := v.(type) {
	case string:
		return r, nil
	case nil:
		return "null", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding tool result: %w", err)
	}
	return string(b), nil
}
