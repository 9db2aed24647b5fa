package runtime

import (
	"fmt"

	"fortio.org/safecast"
	"github.com/risor-io/risor/object"

	"github.com/jward/arbor/internal/term"
)

// Terms cross into Risor as plain values:
//
//	Appl    {"op": name, "args": [...], "origin": {...}}
//	Var     {"var": name, "resource": resource}
//	Tuple   {"tuple": [...]}
//	String  string
//	Int     int
//	List    list
//
// nil converts back to the empty tuple and booleans to True()/False().

// ToObject converts a term to a Risor value.
func ToObject(t term.Term) object.Object {
	var items map[string]object.Object
	switch t.Kind {
	case term.KindString:
		return object.NewString(t.Str)
	case term.KindInt:
		return object.NewInt(t.Int)
	case term.KindList:
		return object.NewList(toObjects(t.Args))
	case term.KindVar:
		return object.NewMap(map[string]object.Object{
			"var":      object.NewString(t.Op),
			"resource": object.NewString(t.Str),
		})
	case term.KindTuple:
		items = map[string]object.Object{"tuple": object.NewList(toObjects(t.Args))}
	default:
		items = map[string]object.Object{
			"op":   object.NewString(t.Op),
			"args": object.NewList(toObjects(t.Args)),
		}
	}
	if t.Origin != nil {
		items["origin"] = originObject(t.Origin)
	}
	return object.NewMap(items)
}

func toObjects(ts []term.Term) []object.Object {
	out := make([]object.Object, len(ts))
	for i, t := range ts {
		out[i] = ToObject(t)
	}
	return out
}

func originObject(o *term.Origin) object.Object {
	return object.NewMap(map[string]object.Object{
		"resource":   object.NewString(o.Resource),
		"start_line": object.NewInt(int64(o.StartLine)),
		"start_col":  object.NewInt(int64(o.StartCol)),
		"end_line":   object.NewInt(int64(o.EndLine)),
		"end_col":    object.NewInt(int64(o.EndCol)),
	})
}

// FromObject converts a Risor value back to a term.
func FromObject(obj object.Object) (term.Term, error) {
	switch o := obj.(type) {
	case *object.String:
		return term.String(o.Value()), nil
	case *object.Int:
		return term.Int(o.Value()), nil
	case *object.Bool:
		if o.Value() {
			return term.Appl("True"), nil
		}
		return term.Appl("False"), nil
	case *object.NilType:
		return term.Empty(), nil
	case *object.List:
		args, err := fromObjects(o.Value())
		if err != nil {
			return term.Term{}, err
		}
		return term.List(args...), nil
	case *object.Map:
		return fromMap(o.Value())
	}
	return term.Term{}, fmt.Errorf("cannot convert %s to a term", obj.Type())
}

func fromObjects(objs []object.Object) ([]term.Term, error) {
	out := make([]term.Term, len(objs))
	for i, o := range objs {
		t, err := FromObject(o)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func fromMap(m map[string]object.Object) (term.Term, error) {
	var t term.Term
	switch {
	case m["var"] != nil:
		return term.Var(getString(m, "resource"), getString(m, "var")), nil
	case m["tuple"] != nil:
		list, ok := m["tuple"].(*object.List)
		if !ok {
			return term.Term{}, fmt.Errorf("tuple must hold a list, got %s", m["tuple"].Type())
		}
		args, err := fromObjects(list.Value())
		if err != nil {
			return term.Term{}, err
		}
		t = term.Tuple(args...)
	case m["op"] != nil:
		op, ok := m["op"].(*object.String)
		if !ok {
			return term.Term{}, fmt.Errorf("op must be a string, got %s", m["op"].Type())
		}
		var args []term.Term
		if a, ok := m["args"]; ok {
			list, ok := a.(*object.List)
			if !ok {
				return term.Term{}, fmt.Errorf("args of %s must be a list, got %s", op.Value(), a.Type())
			}
			var err error
			if args, err = fromObjects(list.Value()); err != nil {
				return term.Term{}, err
			}
		}
		t = term.Appl(op.Value(), args...)
	default:
		return term.Term{}, fmt.Errorf("map is not a term: needs op, var or tuple")
	}
	if om, ok := m["origin"].(*object.Map); ok {
		o, err := originFrom(om.Value())
		if err != nil {
			return term.Term{}, err
		}
		t.Origin = o
	}
	return t, nil
}

func originFrom(m map[string]object.Object) (*term.Origin, error) {
	o := &term.Origin{Resource: getString(m, "resource")}
	for key, dst := range map[string]*int{
		"start_line": &o.StartLine,
		"start_col":  &o.StartCol,
		"end_line":   &o.EndLine,
		"end_col":    &o.EndCol,
	} {
		n, err := safecast.Conv[int](getInt64(m, key))
		if err != nil {
			return nil, fmt.Errorf("origin %s: %w", key, err)
		}
		*dst = n
	}
	return o, nil
}

func extractMap(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func getString(m map[string]object.Object, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	if s, ok := v.(*object.String); ok {
		return s.Value()
	}
	return ""
}

func getInt64(m map[string]object.Object, key string) int64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	if i, ok := v.(*object.Int); ok {
		return i.Value()
	}
	if f, ok := v.(*object.Float); ok {
		return int64(f.Value())
	}
	return 0
}
