package solver

import (
	"errors"
	"fmt"
	"maps"

	"github.com/jward/arbor/internal/term"
)

var (
	ErrMismatch = errors.New("cannot unify")
	ErrOccurs   = errors.New("occurs check failed")
)

// UnifyError reports the pair of subterms that failed to unify.
type UnifyError struct {
	Left, Right term.Term
	Err         error
}

func (e *UnifyError) Error() string {
	return fmt.Sprintf("%v: %s and %s", e.Err, e.Left, e.Right)
}

func (e *UnifyError) Unwrap() error { return e.Err }

// Unifier is a substitution built by unification. Variables are keyed by
// term.Key, so same-named variables of different resources stay apart.
type Unifier struct {
	subst map[string]term.Term
	trail []string
}

func NewUnifier() *Unifier {
	return &Unifier{subst: make(map[string]term.Term)}
}

// Len returns the number of bound variables.
func (u *Unifier) Len() int { return len(u.subst) }

// Clone returns an independent copy.
func (u *Unifier) Clone() *Unifier {
	return &Unifier{subst: maps.Clone(u.subst)}
}

// Find follows variable bindings from t until it reaches a non-variable or an
// unbound variable.
func (u *Unifier) Find(t term.Term) term.Term {
	for t.IsVar() {
		b, ok := u.subst[t.Key()]
		if !ok {
			return t
		}
		t = b
	}
	return t
}

// Apply substitutes every bound variable in t.
func (u *Unifier) Apply(t term.Term) term.Term {
	t = u.Find(t)
	if len(t.Args) == 0 {
		return t
	}
	args := make([]term.Term, len(t.Args))
	for i, a := range t.Args {
		args[i] = u.Apply(a)
	}
	t.Args = args
	return t
}

// Unify makes a and b equal. On failure no binding made by this call survives.
func (u *Unifier) Unify(a, b term.Term) error {
	mark := len(u.trail)
	if err := u.unify(a, b); err != nil {
		u.rollback(mark)
		return err
	}
	return nil
}

func (u *Unifier) unify(a, b term.Term) error {
	a, b = u.Find(a), u.Find(b)
	switch {
	case a.IsVar() && b.IsVar() && a.Key() == b.Key():
		return nil
	case a.IsVar():
		return u.bind(a, b)
	case b.IsVar():
		return u.bind(b, a)
	}
	if a.Kind != b.Kind || a.Op != b.Op || a.Str != b.Str || a.Int != b.Int || len(a.Args) != len(b.Args) {
		return &UnifyError{Left: a, Right: b, Err: ErrMismatch}
	}
	for i := range a.Args {
		if err := u.unify(a.Args[i], b.Args[i]); err != nil {
			return err
		}
	}
	return nil
}

func (u *Unifier) bind(v, t term.Term) error {
	if u.occurs(v.Key(), t) {
		return &UnifyError{Left: v, Right: t, Err: ErrOccurs}
	}
	k := v.Key()
	u.subst[k] = t
	u.trail = append(u.trail, k)
	return nil
}

func (u *Unifier) occurs(key string, t term.Term) bool {
	t = u.Find(t)
	if t.IsVar() {
		return t.Key() == key
	}
	for _, a := range t.Args {
		if u.occurs(key, a) {
			return true
		}
	}
	return false
}

func (u *Unifier) rollback(mark int) {
	for _, k := range u.trail[mark:] {
		delete(u.subst, k)
	}
	u.trail = u.trail[:mark]
}

// Bindings returns every bound variable with its fully applied value.
func (u *Unifier) Bindings() map[string]term.Term {
	out := make(map[string]term.Term, len(u.subst))
	for k, v := range u.subst {
		out[k] = u.Apply(v)
	}
	return out
}
