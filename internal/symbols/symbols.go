// Package symbols maps code addresses to the best-known owning routine.
//
// Resolution walks a fixed chain: the interpreter region, the stub registry,
// the live code cache, and finally the host's exported-symbol table. The
// first source that claims the address wins. An address nobody claims is not
// an error; callers print it bare.
package symbols

import (
	"fmt"

	"jitdis/internal/region"
)

// Match is the owning routine of a queried address. Low and High bound the
// routine (High exclusive) and may be narrower than the enclosing region.
type Match struct {
	Name string
	Low  uint64
	High uint64
}

// Contains reports whether addr lies within the match bounds.
func (m Match) Contains(addr uint64) bool {
	return addr >= m.Low && addr < m.High
}

// Offset formats addr relative to the match, e.g. "name+0x10".
func (m Match) Offset(addr uint64) string {
	if addr == m.Low {
		return m.Name
	}
	return fmt.Sprintf("%s+0x%x", m.Name, addr-m.Low)
}

// NativeTable is the host's exported-symbol table. LookupAddr returns the
// symbol covering addr, its start address and its size.
type NativeTable interface {
	LookupAddr(addr uint64) (name string, start, size uint64, ok bool)
}

// Resolver is the address-to-name chain. Any source may be nil. A Resolver
// is safe for concurrent use once built.
type Resolver struct {
	Interpreter *Interpreter
	Stubs       *StubRegistry
	Code        *region.Registry
	Native      NativeTable

	// Demangle applies C++/Rust demangling to native symbol names.
	Demangle bool
}

// Resolve returns the best match for addr.
func (r *Resolver) Resolve(addr uint64) (Match, bool) {
	if r == nil {
		return Match{}, false
	}
	if m, ok := r.Interpreter.Lookup(addr); ok {
		return m, true
	}
	if m, ok := r.Stubs.Lookup(addr); ok {
		return m, true
	}
	if r.Code != nil {
		if reg, ok := r.Code.Lookup(addr); ok {
			return codeMatch(reg, addr), true
		}
	}
	if r.Native != nil {
		if name, start, size, ok := r.Native.LookupAddr(addr); ok {
			if r.Demangle {
				name = CachedDemangle(name)
			}
			high := start + size
			if size == 0 {
				high = addr + 1
			}
			return Match{Name: name, Low: start, High: high}, true
		}
	}
	return Match{}, false
}

// Name returns just the name of the routine owning addr.
func (r *Resolver) Name(addr uint64) (string, bool) {
	m, ok := r.Resolve(addr)
	if !ok {
		return "", false
	}
	return m.Name, true
}

// RegionName returns the display name of a code region: the owning
// routine's description when attached, else the region's own name, else its
// kind.
func RegionName(reg region.Region) string {
	if o, ok := reg.(region.Owner); ok {
		if d := o.OwnerDescription(); d != "" {
			return d
		}
	}
	if n := reg.Name(); n != "" {
		return n
	}
	return string(reg.Kind())
}

func codeMatch(reg region.Region, addr uint64) Match {
	name := RegionName(reg)
	if p, ok := reg.(region.Partitioned); ok {
		for _, sr := range p.SubRanges() {
			if addr >= sr.Low && addr < sr.High {
				return Match{Name: name + "::" + sr.ID.String(), Low: sr.Low, High: sr.High}
			}
		}
	}
	return Match{Name: name, Low: reg.Begin(), High: reg.End()}
}
