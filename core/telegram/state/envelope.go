package state

// Kind tags a State variant. Handlers are registered per Kind.
type Kind string

// State is one variant of a conversational flow.
type State interface {
	Kind() Kind
}

// Envelope is the stored state of one correspondent. Values are replaced, never
// mutated in place.
type Envelope[G any] struct {
	Current State
	Global  G
}

// WithCurrent returns a copy of e with Current set to s.
func (e Envelope[G]) WithCurrent(s State) Envelope[G] {
	e.Current = s
	return e
}

// WithGlobal returns a copy of e with Global set to g.
func (e Envelope[G]) WithGlobal(g G) Envelope[G] {
	e.Global = g
	return e
}

// KindOf returns the kind of s, or "" for nil.
func KindOf(s State) Kind {
	if s == nil {
		return ""
	}
	return s.Kind()
}
