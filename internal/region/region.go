// Package region describes bounded spans of generated machine code and the
// optional per-offset metadata their owners can attach.
package region

import (
	"fmt"
	"sort"
	"sync"
)

// Kind is a coarse classification of a code region. It doubles as the
// generic name of a region whose owner did not attach one.
type Kind string

const (
	KindCompiled    Kind = "compiled"
	KindBaseline    Kind = "baseline"
	KindStubBlob    Kind = "stub-blob"
	KindAdapter     Kind = "adapter"
	KindInterpreter Kind = "interpreter"
	KindNative      Kind = "native"
)

// Region is a read-only view of a code region. End is exclusive.
type Region interface {
	Name() string
	Kind() Kind
	Begin() uint64
	End() uint64
}

// Owner is implemented by regions attached to a named routine.
type Owner interface {
	OwnerDescription() string
}

// DebugInfo is implemented by regions carrying debug markers (safepoint maps,
// scope descriptors) keyed by byte offset from Begin.
type DebugInfo interface {
	DebugInfoAt(offset uint64) []string
}

// Coverage is implemented by regions carrying coverage markers.
type Coverage interface {
	CoverageAt(offset uint64) []string
}

// Trailer is implemented by regions whose tail holds non-code data (constant
// pools, relocation or exception tables). TrailerOffset returns the byte
// offset from Begin where the data starts.
type Trailer interface {
	TrailerOffset() (uint64, bool)
}

// Remarks is implemented by regions that attach a trailing comment to a
// specific instruction, such as an implicit null check or a lock site.
type Remarks interface {
	RemarkAt(offset uint64) string
}

// StubID enumerates the runtime stub entry points a partitioned region may
// contain.
type StubID int

const (
	StubEntry StubID = iota
	StubVerifiedEntry
	StubOSREntry
	StubExceptionHandler
	StubDeoptHandler
	StubUnwindHandler
	StubTrampoline
	StubSlowPath
)

var stubIDNames = [...]string{
	StubEntry:            "entry",
	StubVerifiedEntry:    "verified_entry",
	StubOSREntry:         "osr_entry",
	StubExceptionHandler: "exception_handler",
	StubDeoptHandler:     "deopt_handler",
	StubUnwindHandler:    "unwind_handler",
	StubTrampoline:       "trampoline",
	StubSlowPath:         "slow_path",
}

func (id StubID) String() string {
	if id >= 0 && int(id) < len(stubIDNames) {
		return stubIDNames[id]
	}
	return fmt.Sprintf("stub_%d", int(id))
}

// ParseStubID maps a sub-range name back to its StubID.
func ParseStubID(s string) (StubID, bool) {
	for i, n := range stubIDNames {
		if n == s {
			return StubID(i), true
		}
	}
	return 0, false
}

// SubRange is a named slice of a partitioned region. High is exclusive.
type SubRange struct {
	ID   StubID
	Low  uint64
	High uint64
}

// Partitioned is implemented by regions internally split into stub
// sub-ranges.
type Partitioned interface {
	SubRanges() []SubRange
}

// Contains reports whether addr lies in [r.Begin(), r.End()).
func Contains(r Region, addr uint64) bool {
	return addr >= r.Begin() && addr < r.End()
}

// Registry is the set of currently live code regions. Lookups may run
// concurrently with each other; Add and Remove take the write lock.
type Registry struct {
	mu      sync.RWMutex
	regions []Region // sorted by Begin
}

// NewRegistry creates a registry holding the given regions.
func NewRegistry(regions ...Region) *Registry {
	r := &Registry{}
	for _, reg := range regions {
		r.Add(reg)
	}
	return r
}

// Add inserts a region, keeping the set sorted by start address.
func (r *Registry) Add(reg Region) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].Begin() >= reg.Begin()
	})
	r.regions = append(r.regions, nil)
	copy(r.regions[i+1:], r.regions[i:])
	r.regions[i] = reg
}

// Remove drops the region starting at begin. It reports whether one was found.
func (r *Registry) Remove(begin uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.regions {
		if reg.Begin() == begin {
			r.regions = append(r.regions[:i], r.regions[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup returns the live region containing addr.
func (r *Registry) Lookup(addr uint64) (Region, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// First region starting after addr; the candidate is the one before it.
	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].Begin() > addr
	})
	// Live regions never overlap.
	if i == 0 || !Contains(r.regions[i-1], addr) {
		return nil, false
	}
	return r.regions[i-1], true
}

// Len returns the number of live regions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regions)
}

// All returns a snapshot of the live regions in address order.
func (r *Registry) All() []Region {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Region, len(r.regions))
	copy(out, r.regions)
	return out
}
