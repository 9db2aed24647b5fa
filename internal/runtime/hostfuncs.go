package runtime

import (
	"context"
	"log/slog"

	"github.com/risor-io/risor/object"
)

// Host functions build term values (see bridge.go) so scripts never spell
// out the map encoding by hand.

func applObject(op string, args []object.Object) object.Object {
	if args == nil {
		args = []object.Object{}
	}
	return object.NewMap(map[string]object.Object{
		"op":   object.NewString(op),
		"args": object.NewList(args),
	})
}

func tupleObject(elems []object.Object) object.Object {
	if elems == nil {
		elems = []object.Object{}
	}
	return object.NewMap(map[string]object.Object{"tuple": object.NewList(elems)})
}

// makeApplFn creates "appl".
//
// appl(op, args...) → term
func makeApplFn() *object.Builtin {
	return object.NewBuiltin("appl", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 {
			return object.NewArgsRangeError("appl", 1, 64, len(args))
		}
		op, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("appl: op must be a string, got %s", args[0].Type())
		}
		return applObject(op.Value(), append([]object.Object(nil), args[1:]...))
	})
}

// makeTupleFn creates "tuple".
//
// tuple(elems...) → term
func makeTupleFn() *object.Builtin {
	return object.NewBuiltin("tuple", func(ctx context.Context, args ...object.Object) object.Object {
		return tupleObject(append([]object.Object(nil), args...))
	})
}

// makeTextFn creates "text", the source text of a leaf node.
//
// text(node) → string or nil
func makeTextFn() *object.Builtin {
	return object.NewBuiltin("text", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("text", 1, len(args))
		}
		return leafText(args[0])
	})
}

func leafText(obj object.Object) object.Object {
	switch o := obj.(type) {
	case *object.String:
		return o
	case *object.Map:
		list, ok := o.Value()["args"].(*object.List)
		if !ok {
			return object.Nil
		}
		items := list.Value()
		if len(items) == 1 {
			if s, ok := items[0].(*object.String); ok {
				return s
			}
		}
	}
	return object.Nil
}

// makeOpFn creates "op_of": the constructor of an appl term.
//
// op_of(t) → string, or nil when t is not an appl
func makeOpFn() *object.Builtin {
	return object.NewBuiltin("op_of", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("op_of", 1, len(args))
		}
		m, ok := args[0].(*object.Map)
		if !ok {
			return object.Nil
		}
		if op, ok := m.Value()["op"].(*object.String); ok {
			return op
		}
		return object.Nil
	})
}

// makeArgsFn creates "args_of": the children of an appl, list or tuple.
//
// args_of(t) → list, empty for leaves
func makeArgsFn() *object.Builtin {
	return object.NewBuiltin("args_of", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("args_of", 1, len(args))
		}
		switch o := args[0].(type) {
		case *object.List:
			return o
		case *object.Map:
			for _, key := range []string{"args", "tuple"} {
				if l, ok := o.Value()[key].(*object.List); ok {
					return l
				}
			}
		}
		return object.NewList(nil)
	})
}

// makeMessageFn creates "message".
//
// message(severity, text, anchor?) → Message(severity, text, anchor)
func makeMessageFn() *object.Builtin {
	return object.NewBuiltin("message", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 2 || len(args) > 3 {
			return object.NewArgsRangeError("message", 2, 3, len(args))
		}
		anchor := tupleObject(nil)
		if len(args) == 3 {
			anchor = args[2]
		}
		return applObject("Message", []object.Object{args[0], args[1], anchor})
	})
}

// makeOccurrenceFn creates "occurrence". The position is taken from the
// node's origin so equal names at different places stay distinct.
//
// occurrence(namespace, node) → Occurrence(namespace, name, Pos(line, col))
func makeOccurrenceFn() *object.Builtin {
	return object.NewBuiltin("occurrence", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("occurrence", 2, len(args))
		}
		name := leafText(args[1])
		if name == object.Nil {
			return object.Errorf("occurrence: node has no text")
		}
		var line, col int64
		var origin object.Object
		if m, ok := args[1].(*object.Map); ok {
			if om, ok := m.Value()["origin"].(*object.Map); ok {
				origin = om
				line = getInt64(om.Value(), "start_line")
				col = getInt64(om.Value(), "start_col")
			}
		}
		pos := applObject("Pos", []object.Object{object.NewInt(line), object.NewInt(col)})
		items := map[string]object.Object{
			"op":   object.NewString("Occurrence"),
			"args": object.NewList([]object.Object{args[0], name, pos}),
		}
		if origin != nil {
			items["origin"] = origin
		}
		return object.NewMap(items)
	})
}

// makeConfigFn creates "config".
//
// config(labels) → Config(labels)
func makeConfigFn() *object.Builtin {
	return object.NewBuiltin("config", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("config", 1, len(args))
		}
		if _, ok := args[0].(*object.List); !ok {
			return object.Errorf("config: labels must be a list, got %s", args[0].Type())
		}
		return applObject("Config", []object.Object{args[0]})
	})
}

// makeShapeFn creates a constructor for one of the phase result shapes. A
// negative max means any number of arguments.
func makeShapeFn(name, op string, minArgs, maxArgs int) *object.Builtin {
	return object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < minArgs || (maxArgs >= 0 && len(args) > maxArgs) {
			if maxArgs < 0 {
				maxArgs = 64
			}
			return object.NewArgsRangeError(name, minArgs, maxArgs, len(args))
		}
		return applObject(op, append([]object.Object(nil), args...))
	})
}

// makeVarFn creates "variable", scoped to one resource.
//
// variable(name) → ?name
func makeVarFn(resource string) *object.Builtin {
	return object.NewBuiltin("variable", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("variable", 1, len(args))
		}
		name, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("variable: name must be a string, got %s", args[0].Type())
		}
		return object.NewMap(map[string]object.Object{
			"var":      name,
			"resource": object.NewString(resource),
		})
	})
}

// makeFreshFn creates "fresh", a variable with a context-unique name.
//
// fresh(base) → ?base-N
func makeFreshFn(resource string, fresh func(string) string) *object.Builtin {
	return object.NewBuiltin("fresh", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("fresh", 1, len(args))
		}
		base, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("fresh: base must be a string, got %s", args[0].Type())
		}
		return object.NewMap(map[string]object.Object{
			"var":      object.NewString(fresh(base.Value())),
			"resource": object.NewString(resource),
		})
	})
}

// logObject provides log.info/warn/error methods for Risor scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg, "from", "script")
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg, "from", "script")
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg, "from", "script")
}
