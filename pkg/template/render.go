package template

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// Renderer evaluates `{{…}}` spans in template strings. Compiled programs
// are cached per expression, so repeated tool calls re-render cheaply.
type Renderer struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewRenderer builds a renderer with the standard context variables and the
// builtin helper functions registered.
func NewRenderer() (*Renderer, error) {
	opts := []cel.EnvOption{
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("config", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("response", cel.MapType(cel.StringType, cel.DynType)),
	}
	opts = append(opts, builtins()...)

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create template environment: %w", err)
	}
	return &Renderer{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Render substitutes every `{{expr}}` span in tmpl with the stringified
// result of evaluating expr against ctx. Text outside spans passes through
// verbatim. An unterminated span or a failing expression is an error.
func (r *Renderer) Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	vars := ctx.vars()
	var out strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:start])
		rest = rest[start+2:]

		end := strings.Index(rest, "}}")
		if end < 0 {
			return "", fmt.Errorf("unterminated template expression in %q", tmpl)
		}
		expr := strings.TrimSpace(rest[:end])
		rest = rest[end+2:]

		val, err := r.eval(expr, vars)
		if err != nil {
			return "", err
		}
		out.WriteString(stringify(val))
	}
}

// RenderJSON renders tmpl and parses the result as JSON. Used for
// request_body templates, which must produce a valid JSON document.
func (r *Renderer) RenderJSON(tmpl string, ctx *Context) (any, error) {
	rendered, err := r.Render(tmpl, ctx)
	if err != nil {
		return nil, err
	}
	var parsed any
	if err := json.Unmarshal([]byte(rendered), &parsed); err != nil {
		return nil, fmt.Errorf("template did not produce valid JSON: %w", err)
	}
	return parsed, nil
}

func (r *Renderer) eval(expr string, vars map[string]any) (any, error) {
	prg, err := r.program(expr)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %q: %w", expr, err)
	}
	return native(out), nil
}

func (r *Renderer) program(expr string) (cel.Program, error) {
	r.mu.RLock()
	prg, ok := r.programs[expr]
	r.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := r.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", expr, iss.Err())
	}
	prg, err := r.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for %q: %w", expr, err)
	}

	r.mu.Lock()
	r.programs[expr] = prg
	r.mu.Unlock()
	return prg, nil
}

// native unwraps a CEL value into plain Go types: lists become []any, maps
// become map[string]any, scalars unwrap directly.
func native(v ref.Val) any {
	if v == nil || v == types.NullValue {
		return nil
	}
	if l, ok := v.(traits.Lister); ok {
		out := []any{}
		it := l.Iterator()
		for it.HasNext() == types.True {
			out = append(out, native(it.Next()))
		}
		return out
	}
	if m, ok := v.(traits.Mapper); ok {
		out := map[string]any{}
		it := m.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			out[fmt.Sprintf("%v", k.Value())] = native(m.Get(k))
		}
		return out
	}
	return v.Value()
}

// stringify renders an evaluated value into template output. Scalars print
// bare; composite values print as JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

func toRef(v any) ref.Val {
	return types.DefaultTypeAdapter.NativeToValue(v)
}

// builtins registers the helper functions available inside template
// expressions.
func builtins() []cel.EnvOption {
	dynList := cel.ListType(cel.DynType)
	strList := cel.ListType(cel.StringType)
	dynMap := cel.MapType(cel.StringType, cel.DynType)

	return []cel.EnvOption{
		cel.Function("toString",
			cel.Overload("toString_dyn", []*cel.Type{cel.DynType}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.String(stringify(native(v)))
				}))),
		cel.Function("toNumber",
			cel.Overload("toNumber_dyn", []*cel.Type{cel.DynType}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					switch t := native(v).(type) {
					case float64:
						return types.Double(t)
					case int64:
						return types.Double(t)
					case uint64:
						return types.Double(t)
					case string:
						f, err := strconv.ParseFloat(t, 64)
						if err != nil {
							return types.NewErr("toNumber: %q is not numeric", t)
						}
						return types.Double(f)
					default:
						return types.NewErr("toNumber: unsupported type %T", t)
					}
				}))),
		cel.Function("length",
			cel.Overload("length_dyn", []*cel.Type{cel.DynType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					switch t := native(v).(type) {
					case string:
						return types.Int(len(t))
					case []any:
						return types.Int(len(t))
					case map[string]any:
						return types.Int(len(t))
					default:
						return types.NewErr("length: unsupported type %T", t)
					}
				}))),
		cel.Function("toJSON",
			cel.Overload("toJSON_dyn", []*cel.Type{cel.DynType}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					data, err := json.Marshal(native(v))
					if err != nil {
						return types.NewErr("toJSON: %v", err)
					}
					return types.String(data)
				}))),
		cel.Function("fromJSON",
			cel.Overload("fromJSON_string", []*cel.Type{cel.StringType}, cel.DynType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					s, ok := native(v).(string)
					if !ok {
						return types.NewErr("fromJSON: argument must be a string")
					}
					var parsed any
					if err := json.Unmarshal([]byte(s), &parsed); err != nil {
						return types.NewErr("fromJSON: %v", err)
					}
					return toRef(parsed)
				}))),
		cel.Function("join",
			cel.Overload("join_list_string", []*cel.Type{dynList, cel.StringType}, cel.StringType,
				cel.BinaryBinding(func(l, sep ref.Val) ref.Val {
					items, ok := native(l).([]any)
					if !ok {
						return types.NewErr("join: first argument must be a list")
					}
					parts := make([]string, len(items))
					for i, item := range items {
						parts[i] = stringify(item)
					}
					return types.String(strings.Join(parts, fmt.Sprintf("%v", native(sep))))
				}))),
		cel.Function("split",
			cel.Overload("split_string_string", []*cel.Type{cel.StringType, cel.StringType}, strList,
				cel.BinaryBinding(func(s, sep ref.Val) ref.Val {
					return toRef(strings.Split(fmt.Sprintf("%v", native(s)), fmt.Sprintf("%v", native(sep))))
				}))),
		cel.Function("replace",
			cel.Overload("replace_string_string_string",
				[]*cel.Type{cel.StringType, cel.StringType, cel.StringType}, cel.StringType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					s := fmt.Sprintf("%v", native(args[0]))
					old := fmt.Sprintf("%v", native(args[1]))
					repl := fmt.Sprintf("%v", native(args[2]))
					return types.String(strings.ReplaceAll(s, old, repl))
				}))),
		cel.Function("default",
			cel.Overload("default_dyn_dyn", []*cel.Type{cel.DynType, cel.DynType}, cel.DynType,
				cel.BinaryBinding(func(v, fallback ref.Val) ref.Val {
					n := native(v)
					if n == nil {
						return fallback
					}
					if s, ok := n.(string); ok && s == "" {
						return fallback
					}
					return v
				}))),
		cel.Function("pick",
			cel.Overload("pick_map_list", []*cel.Type{dynMap, strList}, dynMap,
				cel.BinaryBinding(func(m, keys ref.Val) ref.Val {
					src, ok := native(m).(map[string]any)
					if !ok {
						return types.NewErr("pick: first argument must be a map")
					}
					out := map[string]any{}
					for _, k := range toStrings(native(keys)) {
						if v, present := src[k]; present {
							out[k] = v
						}
					}
					return toRef(out)
				}))),
		cel.Function("omit",
			cel.Overload("omit_map_list", []*cel.Type{dynMap, strList}, dynMap,
				cel.BinaryBinding(func(m, keys ref.Val) ref.Val {
					src, ok := native(m).(map[string]any)
					if !ok {
						return types.NewErr("omit: first argument must be a map")
					}
					drop := map[string]struct{}{}
					for _, k := range toStrings(native(keys)) {
						drop[k] = struct{}{}
					}
					out := map[string]any{}
					for k, v := range src {
						if _, skip := drop[k]; !skip {
							out[k] = v
						}
					}
					return toRef(out)
				}))),
		cel.Function("filterBy",
			cel.Overload("filterBy_list_string_dyn",
				[]*cel.Type{dynList, cel.StringType, cel.DynType}, dynList,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					items, ok := native(args[0]).([]any)
					if !ok {
						return types.NewErr("filterBy: first argument must be a list")
					}
					key := fmt.Sprintf("%v", native(args[1]))
					want := native(args[2])
					out := []any{}
					for _, item := range items {
						m, ok := item.(map[string]any)
						if ok && reflect.DeepEqual(m[key], want) {
							out = append(out, item)
						}
					}
					return toRef(out)
				}))),
		cel.Function("pluck",
			cel.Overload("pluck_list_string", []*cel.Type{dynList, cel.StringType}, dynList,
				cel.BinaryBinding(func(l, key ref.Val) ref.Val {
					items, ok := native(l).([]any)
					if !ok {
						return types.NewErr("pluck: first argument must be a list")
					}
					k := fmt.Sprintf("%v", native(key))
					out := []any{}
					for _, item := range items {
						if m, ok := item.(map[string]any); ok {
							out = append(out, m[k])
						}
					}
					return toRef(out)
				}))),
		cel.Function("includes",
			cel.Overload("includes_dyn_dyn", []*cel.Type{cel.DynType, cel.DynType}, cel.BoolType,
				cel.BinaryBinding(func(container, item ref.Val) ref.Val {
					needle := native(item)
					switch t := native(container).(type) {
					case string:
						return types.Bool(strings.Contains(t, fmt.Sprintf("%v", needle)))
					case []any:
						for _, v := range t {
							if reflect.DeepEqual(v, needle) {
								return types.True
							}
						}
						return types.False
					default:
						return types.NewErr("includes: unsupported type %T", t)
					}
				}))),
	}
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}
