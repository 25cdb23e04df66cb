package symbols

import (
	"sort"
	"sync"
)

// Routine is a named, independently bounded span of code.
type Routine struct {
	Name string
	Low  uint64
	High uint64
}

// Interpreter is the single interpreter code region and the named routines
// (bytecode handlers, entry/return sequences) inside it.
type Interpreter struct {
	Low, High uint64
	Routines  []Routine
}

// InterpreterName is the generic match name for addresses inside the
// interpreter that no routine claims.
const InterpreterName = "interpreter"

// Lookup returns the routine containing addr, or a match spanning the whole
// interpreter when no routine claims it.
func (in *Interpreter) Lookup(addr uint64) (Match, bool) {
	if in == nil || addr < in.Low || addr >= in.High {
		return Match{}, false
	}
	for _, r := range in.Routines {
		if addr >= r.Low && addr < r.High {
			return Match{Name: InterpreterName + "::" + r.Name, Low: r.Low, High: r.High}, true
		}
	}
	return Match{Name: InterpreterName, Low: in.Low, High: in.High}, true
}

type stub struct {
	group string
	Routine
}

// StubRegistry holds hand-generated stubs, grouped by the generator that
// emitted them.
type StubRegistry struct {
	mu    sync.RWMutex
	stubs []stub // sorted by Low
}

// NewStubRegistry creates an empty registry.
func NewStubRegistry() *StubRegistry {
	return &StubRegistry{}
}

// Register adds a stub spanning [low, high).
func (s *StubRegistry) Register(group, name string, low, high uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := stub{group: group, Routine: Routine{Name: name, Low: low, High: high}}
	i := sort.Search(len(s.stubs), func(i int) bool { return s.stubs[i].Low >= low })
	s.stubs = append(s.stubs, stub{})
	copy(s.stubs[i+1:], s.stubs[i:])
	s.stubs[i] = st
}

// Len returns the number of registered stubs.
func (s *StubRegistry) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stubs)
}

// Lookup returns the stub containing addr as "<group>::<name>".
func (s *StubRegistry) Lookup(addr uint64) (Match, bool) {
	if s == nil {
		return Match{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.stubs), func(i int) bool { return s.stubs[i].Low > addr })
	// Stubs are disjoint but empty ones may share a start; scan back.
	for j := i - 1; j >= 0 && j >= i-4; j-- {
		st := s.stubs[j]
		if addr >= st.Low && addr < st.High {
			return Match{Name: st.group + "::" + st.Name, Low: st.Low, High: st.High}, true
		}
	}
	return Match{}, false
}
