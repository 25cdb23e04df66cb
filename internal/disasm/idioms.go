package disasm

import (
	"fmt"
	"strings"
)

// OpKind is the coarse effect class of an instruction, as seen by the
// provenance tracker.
type OpKind uint8

const (
	OpNone OpKind = iota // writes no tracked register
	OpOther              // writes Dst in a way no idiom models
	OpMove
	OpXchg
	OpAdd
	OpSub
	OpAnd
	OpShl
	OpShr
	OpPush
	OpPop
	OpCall
)

// Effect describes what one decoded instruction does to the register file.
type Effect struct {
	Op     OpKind
	Dst    int // written register, -1 if none
	Src    int // source register for moves and exchanges, -1 if none
	Width  int // operand width in bytes
	Imm    uint64
	HasImm bool

	// Clobber lists registers written implicitly (string ops, mul, cpuid).
	Clobber []int
}

func noEffect() Effect { return Effect{Op: OpNone, Dst: -1, Src: -1} }

// Conventions are the code generator's environment-specific constants.
type Conventions struct {
	StackSize    uint64 // thread stack size, a power of two
	TagBits      uint   // pointer tag width
	PreservedReg int    // register not clobbered by calls
	TagMaskBase  uint64 // known tag-mask base address, 0 if none
}

// DefaultConventions returns the conventions of the default code generator.
func DefaultConventions() Conventions {
	return Conventions{
		StackSize:    0x100000,
		TagBits:      16,
		PreservedReg: R14,
	}
}

// threadMask is the AND immediate that maps a stack address to the thread
// control block at the stack's base.
func (cv Conventions) threadMask() uint64 {
	if cv.StackSize == 0 {
		return 0
	}
	return ^(cv.StackSize - 1)
}

// Idiom is one recognised code-generation pattern. Apply inspects an effect
// and may update the register file. It reports whether it handled the write
// to e.Dst and returns an optional comment for the instruction.
type Idiom struct {
	Name  string
	Apply func(rf *RegisterFile, e Effect, cv Conventions) (handled bool, note string)
}

// IdiomSet is an ordered list of idioms. Every idiom sees every effect.
type IdiomSet []Idiom

var builtinIdioms = []Idiom{
	{Name: "copy", Apply: copyIdiom},
	{Name: "frame-retag", Apply: frameRetagIdiom},
	{Name: "thread-mask", Apply: threadMaskIdiom},
	{Name: "tag-strip", Apply: tagStripIdiom},
	{Name: "call-clobber", Apply: callClobberIdiom},
}

// DefaultIdioms returns all built-in idioms in their default order.
func DefaultIdioms() IdiomSet {
	out := make(IdiomSet, len(builtinIdioms))
	copy(out, builtinIdioms)
	return out
}

// IdiomNames lists the built-in idiom names.
func IdiomNames() []string {
	names := make([]string, len(builtinIdioms))
	for i, id := range builtinIdioms {
		names[i] = id.Name
	}
	return names
}

// ParseIdioms builds an idiom set from names, in the given order. An empty
// list yields an empty, non-nil set that tracks nothing.
func ParseIdioms(names []string) (IdiomSet, error) {
	set := IdiomSet{}
	for _, n := range names {
		found := false
		for _, id := range builtinIdioms {
			if id.Name == n {
				set = append(set, id)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("disasm: unknown idiom %q (have %s)", n, strings.Join(IdiomNames(), ", "))
		}
	}
	return set, nil
}

// Step applies one instruction's effect to the register file and returns the
// comments produced by the idioms that fired.
func (set IdiomSet) Step(rf *RegisterFile, e Effect, cv Conventions) []string {
	if e.Op == OpNone {
		return nil
	}
	handled := false
	var notes []string
	for _, id := range set {
		h, note := id.Apply(rf, e, cv)
		handled = handled || h
		if note != "" {
			notes = append(notes, note)
		}
	}
	for _, r := range e.Clobber {
		rf.set(r, Unknown)
	}
	if handled || e.Dst < 0 {
		return notes
	}
	// Any unmodelled write to rsp still leaves a stack pointer in it.
	if e.Dst == RSP {
		rf.set(RSP, StackPointer)
		return notes
	}
	rf.set(e.Dst, Unknown)
	return notes
}

func copyIdiom(rf *RegisterFile, e Effect, _ Conventions) (bool, string) {
	if e.Src < 0 || e.Dst < 0 || e.Width != 8 {
		return false, ""
	}
	switch e.Op {
	case OpMove:
		rf.set(e.Dst, rf.Get(e.Src))
		return true, ""
	case OpXchg:
		a, b := rf.Get(e.Dst), rf.Get(e.Src)
		rf.set(e.Dst, b)
		rf.set(e.Src, a)
		return true, ""
	}
	return false, ""
}

// frameRetagIdiom treats push, pop and every write to rsp as a stack
// adjustment: copies of the old stack pointer become frame pointers and rsp
// itself stays the stack pointer.
func frameRetagIdiom(rf *RegisterFile, e Effect, _ Conventions) (bool, string) {
	writesRsp := e.Dst == RSP || (e.Op == OpXchg && e.Src == RSP)
	if e.Op != OpPush && e.Op != OpPop && !writesRsp {
		return false, ""
	}
	for i := range rf {
		if i != RSP && rf[i] == StackPointer {
			rf[i] = FramePointer
		}
	}
	if !writesRsp {
		// A pop still overwrites its destination.
		return false, ""
	}
	rf[RSP] = StackPointer
	return e.Dst == RSP, ""
}

func threadMaskIdiom(rf *RegisterFile, e Effect, cv Conventions) (bool, string) {
	if e.Op != OpAnd || !e.HasImm || e.Dst < 0 || e.Width != 8 {
		return false, ""
	}
	mask := cv.threadMask()
	if mask == 0 || e.Imm != mask || rf.Get(e.Dst) != StackPointer {
		return false, ""
	}
	rf.set(e.Dst, ThreadPointer)
	return true, fmt.Sprintf("thread = sp & ~(0x%x-1)", cv.StackSize)
}

func tagStripIdiom(rf *RegisterFile, e Effect, cv Conventions) (bool, string) {
	if !e.HasImm || e.Dst < 0 || e.Width != 8 || cv.TagBits == 0 || e.Imm != uint64(cv.TagBits) {
		return false, ""
	}
	switch e.Op {
	case OpShl:
		rf.set(e.Dst, TagStripInProgress)
		return true, ""
	case OpShr:
		if rf.Get(e.Dst) != TagStripInProgress {
			return false, ""
		}
		rf.set(e.Dst, Unknown)
		return true, "strip metadata"
	}
	return false, ""
}

func callClobberIdiom(rf *RegisterFile, e Effect, cv Conventions) (bool, string) {
	if e.Op != OpCall {
		return false, ""
	}
	for i := range rf {
		if i != RSP && i != cv.PreservedReg {
			rf[i] = Unknown
		}
	}
	return true, ""
}
