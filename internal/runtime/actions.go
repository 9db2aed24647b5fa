package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/risor-io/risor/object"

	"github.com/jward/arbor/internal/analysis"
	"github.com/jward/arbor/internal/dataflow"
	"github.com/jward/arbor/internal/langctx"
	"github.com/jward/arbor/internal/resource"
	"github.com/jward/arbor/internal/term"
)

// ErrNoScript is returned when a language has no analysis script.
var ErrNoScript = errors.New("no analysis script")

// ScriptActions provides analysis actions backed by Risor scripts:
//
//	analysis/{lang}.risor         initial, unit and final actions
//	analysis/{lang}_custom.risor  optional custom actions
//	flow/{lang}.risor             optional dataflow properties
//
// An analysis script sees the globals phase ("initial", "unit", "final"),
// custom, source and args, and emits the phase result term. It may also
// call variable(name) and fresh(base) to build variables of the current file.
type ScriptActions struct {
	rt *Runtime
}

func NewScriptActions(rt *Runtime) *ScriptActions {
	return &ScriptActions{rt: rt}
}

// Actions implements analysis.ActionsProvider.
func (s *ScriptActions) Actions(ctx context.Context, lctx *langctx.Context) (*analysis.Actions, error) {
	lang := lctx.Language()
	path := AnalysisScriptPath(lang)
	if !s.rt.HasScript(path) {
		return nil, fmt.Errorf("runtime: %s: %w", lang, ErrNoScript)
	}
	acts := &analysis.Actions{
		Initial: s.action(path, false),
		Unit:    s.action(path, false),
		Final:   s.action(path, false),
	}
	if custom := CustomScriptPath(lang); s.rt.HasScript(custom) {
		acts.CustomInitial = s.action(custom, true)
		acts.CustomUnit = s.action(custom, true)
		acts.CustomFinal = s.action(custom, true)
	}
	if flow := FlowScriptPath(lang); s.rt.HasScript(flow) {
		acts.Transfers = s.transfers(flow)
	}
	return acts, nil
}

func (s *ScriptActions) action(path string, custom bool) analysis.Action {
	return func(ctx context.Context, c analysis.Call) (term.Term, error) {
		src := string(c.Source)
		globals := map[string]any{
			"phase":    object.NewString(c.Phase.String()),
			"custom":   object.NewBool(custom),
			"source":   object.NewString(src),
			"args":     object.NewList(toObjects(c.Args)),
			"variable": makeVarFn(src),
		}
		if c.Fresh != nil {
			globals["fresh"] = makeFreshFn(src, c.Fresh)
		}
		obj, err := s.rt.RunScript(ctx, path, globals)
		if err != nil {
			return term.Term{}, err
		}
		t, err := FromObject(obj)
		if err != nil {
			return term.Term{}, fmt.Errorf("runtime: %s %s result: %w", path, c.Phase, err)
		}
		return t, nil
	}
}

// transfers reads the dataflow properties of a flow script. The script is
// run with request "properties" and emits a list of
//
//	{"name": ..., "direction": "forward"|"backward", "lattice": "union"|"intersection", "initial": term}
//
// then once per transfer with request "transfer", property, node and input,
// emitting the out value.
func (s *ScriptActions) transfers(path string) analysis.TransferFunc {
	return func(ctx context.Context, src resource.ID) ([]dataflow.Property, error) {
		obj, err := s.rt.RunScript(ctx, path, map[string]any{
			"request": object.NewString("properties"),
			"source":  object.NewString(string(src)),
		})
		if err != nil {
			return nil, err
		}
		list, ok := obj.(*object.List)
		if !ok {
			return nil, fmt.Errorf("runtime: %s: properties must be a list, got %s", path, obj.Type())
		}
		var props []dataflow.Property
		for _, item := range list.Value() {
			p, err := s.property(path, src, item)
			if err != nil {
				return nil, fmt.Errorf("runtime: %s: %w", path, err)
			}
			props = append(props, p)
		}
		return props, nil
	}
}

func (s *ScriptActions) property(path string, src resource.ID, obj object.Object) (dataflow.Property, error) {
	m, err := extractMap(obj)
	if err != nil {
		return dataflow.Property{}, err
	}
	name := getString(m, "name")
	if name == "" {
		return dataflow.Property{}, errors.New("property without a name")
	}
	lattice, ok := dataflow.LatticeByName(getString(m, "lattice"))
	if !ok {
		return dataflow.Property{}, fmt.Errorf("property %s: unknown lattice %q", name, getString(m, "lattice"))
	}
	p := dataflow.Property{Name: name, Lattice: lattice}
	switch dir := getString(m, "direction"); dir {
	case "", "forward":
	case "backward":
		p.Direction = dataflow.Backward
	default:
		return dataflow.Property{}, fmt.Errorf("property %s: unknown direction %q", name, dir)
	}
	if init, ok := m["initial"]; ok {
		if p.Initial, err = FromObject(init); err != nil {
			return dataflow.Property{}, fmt.Errorf("property %s initial: %w", name, err)
		}
	}
	p.Transfer = func(ctx context.Context, node, in term.Term) (term.Term, error) {
		out, err := s.rt.RunScript(ctx, path, map[string]any{
			"request":  object.NewString("transfer"),
			"source":   object.NewString(string(src)),
			"property": object.NewString(name),
			"node":     ToObject(node),
			"input":    ToObject(in),
		})
		if err != nil {
			return term.Term{}, err
		}
		return FromObject(out)
	}
	return p, nil
}
