// Package disasm decodes x86-64 machine code from generated-code regions
// into annotated Intel-syntax text. Decoding never fails: encodings it cannot
// classify degrade to raw bytes with a comment, and every instruction carries
// a Status saying how much to trust it.
package disasm

import (
	"fmt"
	"strings"

	"jitdis/internal/region"
)

// Status says how an instruction was decoded.
type Status uint8

const (
	StatusOK        Status = iota
	StatusUnknown          // encoding not recognised; rendered as raw bytes
	StatusTruncated        // encoding runs past the end of the window
	StatusFailed           // decoded under a disallowed prefix/operand combination
)

var statusNames = [...]string{"ok", "unknown", "truncated", "failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", s)
}

// MemRef is a memory access addressed off a register with known provenance.
type MemRef struct {
	Base  int
	Prov  Provenance
	Disp  int64
	Field string // name from the field map, "" if unresolved
	Store bool
	Width int
}

// Inst is one decoded instruction.
type Inst struct {
	Addr     uint64
	Raw      []byte
	Size     int
	Mnemonic string
	Operands string
	Comment  string
	Text     string // mnemonic, operands and comment
	Status   Status

	Branch     BranchKind
	Target     uint64 // direct branch target or rip-relative address
	HasTarget  bool
	TargetName string // resolved name of Target, "" when unresolved or local

	Dst     int    // register written, -1 if none
	Value   string // symbolic description of the value written to Dst
	CallReg int    // register of an indirect call or jump, -1 if none
	Via     string // provenance of an indirect branch operand
	Mem     *MemRef
	StrRef  string // C string an operand points at
}

// End returns the address of the following instruction.
func (i Inst) End() uint64 { return i.Addr + uint64(i.Size) }

// Options configures a disassembly session.
type Options struct {
	BaseAddr uint64 // address of the first byte
	MaxSteps int    // instruction cap; 0 = 10M

	Resolver Resolver
	Region   region.Region // region being disassembled, for self-references

	// SelfName and SelfEnd describe the range being disassembled when no
	// Region is attached, e.g. a native function.
	SelfName string
	SelfEnd  uint64

	Conventions Conventions
	Idioms      IdiomSet // nil = DefaultIdioms
	Fields      FieldMap
	Tables      []Table
	Memory      MemoryReader
	ImmBase     int // 0 = 16
}

const defaultMaxSteps = 10_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Disassemble decodes every instruction in data. It stops at the end of the
// data, at MaxSteps, or when a decode makes no progress.
func Disassemble(data []byte, opts Options) []Inst {
	s := NewSession(opts)
	return s.DecodeAll(data, opts.BaseAddr, opts.effectiveMax())
}

// DecodeAll decodes data mapped at base with this session's state.
func (s *Session) DecodeAll(data []byte, base uint64, maxSteps int) []Inst {
	c := NewCursor(data, base)
	var out []Inst
	for c.Remaining() > 0 && len(out) < maxSteps {
		inst := s.Decode(c)
		if inst.Size == 0 {
			break
		}
		out = append(out, inst)
	}
	return out
}

// DecodeOne decodes a single instruction at addr with a fresh session.
func DecodeOne(code []byte, addr uint64) Inst {
	s := NewSession(Options{BaseAddr: addr})
	return s.Decode(NewCursor(code, addr))
}

// Format renders instructions one per line:
//
//	0x<addr>  <hex bytes>  <text>
func Format(insts []Inst) string {
	var b strings.Builder
	for _, inst := range insts {
		fmt.Fprintf(&b, "0x%08x  %-30s %s\n", inst.Addr, hexPairs(inst.Raw, 10), inst.Text)
	}
	return b.String()
}

// hexPairs renders up to max bytes as space-separated hex pairs.
func hexPairs(raw []byte, max int) string {
	var b strings.Builder
	for i, x := range raw {
		if i == max {
			break
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", x)
	}
	return b.String()
}

// HexPairs is hexPairs for other packages' renderers.
func HexPairs(raw []byte, max int) string { return hexPairs(raw, max) }
