package disasm

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"jitdis/internal/diag"
	"jitdis/internal/region"
	"jitdis/internal/symbols"
)

// Resolver names code addresses. *symbols.Resolver implements it.
type Resolver interface {
	Resolve(addr uint64) (symbols.Match, bool)
}

// Session is the state of one disassembly pass over a code range: the
// register file, the soft-failure flag and the raw-dump counter. A Session
// must not be shared between goroutines.
type Session struct {
	Regs RegisterFile

	// Failed is set when an encoding was decoded under a disallowed prefix
	// or operand combination. The driver clears it.
	Failed bool

	// PendingRaw counts bytes still to be dumped as raw data instead of
	// decoded.
	PendingRaw int

	Diags diag.Diags

	opts    Options
	conv    Conventions
	idioms  IdiomSet
	immBase int
	self    symbols.Match
	hasSelf bool
}

// NewSession starts a session with a fresh register file.
func NewSession(opts Options) *Session {
	s := &Session{
		Regs:    NewRegisterFile(),
		opts:    opts,
		conv:    opts.Conventions,
		idioms:  opts.Idioms,
		immBase: 16,
	}
	if s.conv == (Conventions{}) {
		s.conv = DefaultConventions()
	}
	if s.idioms == nil {
		s.idioms = DefaultIdioms()
	}
	if opts.ImmBase != 0 {
		s.immBase = validBase(opts.ImmBase)
	}
	switch {
	case opts.Region != nil:
		s.self = symbols.Match{
			Name: symbols.RegionName(opts.Region),
			Low:  opts.Region.Begin(),
			High: opts.Region.End(),
		}
		s.hasSelf = true
	case opts.SelfName != "":
		s.self = symbols.Match{Name: opts.SelfName, Low: opts.BaseAddr, High: opts.SelfEnd}
		s.hasSelf = true
	}
	return s
}

// Region returns the region being disassembled, if any.
func (s *Session) Region() region.Region { return s.opts.Region }

// Reset returns the register file to its initial state.
func (s *Session) Reset() { s.Regs = NewRegisterFile() }

func (s *Session) resolve(addr uint64) (symbols.Match, bool) {
	if s.opts.Resolver == nil {
		return symbols.Match{}, false
	}
	return s.opts.Resolver.Resolve(addr)
}

// targetSuffix renders the symbolic suffix of a branch target. Targets in
// the range being disassembled print only their offset.
func (s *Session) targetSuffix(target uint64, inst *Inst) string {
	if s.hasSelf && s.self.Contains(target) {
		if target == s.self.Low {
			return ""
		}
		return fmt.Sprintf(" <+0x%x>", target-s.self.Low)
	}
	m, ok := s.resolve(target)
	if !ok {
		return ""
	}
	inst.TargetName = m.Offset(target)
	return " <" + inst.TargetName + ">"
}

// addressComment describes a data address computed from a rip-relative
// operand.
func (s *Session) addressComment(addr uint64, inst *Inst) string {
	if str, ok := ProbeCString(s.opts.Memory, addr); ok {
		inst.StrRef = str
		return quoteC(str)
	}
	if s.hasSelf && s.self.Contains(addr) {
		return fmt.Sprintf("+0x%x", addr-s.self.Low)
	}
	if m, ok := s.resolve(addr); ok {
		inst.TargetName = m.Offset(addr)
		return inst.TargetName
	}
	return fmt.Sprintf("[0x%x]", addr)
}

// immediateComment describes the immediate of a mov.
func (s *Session) immediateComment(v int64, size int, inst *Inst) string {
	if c := constantComment(v, size, s.conv); c != "" {
		return c
	}
	if size != 8 {
		return ""
	}
	addr := uint64(v)
	if str, ok := ProbeCString(s.opts.Memory, addr); ok {
		inst.StrRef = str
		return quoteC(str)
	}
	if m, ok := s.resolve(addr); ok {
		inst.TargetName = m.Offset(addr)
		return inst.TargetName
	}
	return ""
}

// Decode decodes one instruction at the cursor, updates the register file
// and returns the rendered instruction. Size is at least 1 whenever the
// cursor had bytes left; a zero Size means no progress was possible.
func (s *Session) Decode(c *ByteCursor) Inst {
	c.Begin()
	addr := c.Addr()
	if c.Remaining() == 0 {
		return Inst{Addr: addr, Status: StatusTruncated, Dst: -1, CallReg: -1}
	}
	d := &decoder{s: s, c: c, effect: noEffect()}
	err := d.decode()
	switch {
	case errors.Is(err, ErrCodeEOF):
		return s.truncated(c, addr)
	case err != nil:
		return s.unknown(c, addr)
	}
	return s.finish(d, addr)
}

func (s *Session) finish(d *decoder, addr uint64) Inst {
	raw := append([]byte(nil), d.c.Consumed()...)
	inst := Inst{
		Addr:     addr,
		Raw:      raw,
		Size:     len(raw),
		Mnemonic: d.mnem,
		Status:   StatusOK,
		Branch:   d.branch,
		Dst:      d.effect.Dst,
		CallReg:  -1,
	}
	r := &renderer{s: s, p: d.p, next: addr + uint64(len(raw)), inst: &inst}

	hint := true
	for _, op := range d.ops {
		if op.kind == opReg || op.kind == opXmm {
			hint = false
		}
	}
	s.recordMem(d, &inst)

	parts := make([]string, len(d.ops))
	for i, op := range d.ops {
		parts[i] = r.operand(op, hint)
		if op.kind == opRel {
			inst.Target, inst.HasTarget = op.target, true
		}
	}
	inst.Operands = strings.Join(parts, ", ")

	if inst.Branch == BranchIndirectCall || inst.Branch == BranchIndirectJump {
		switch op := d.ops[0]; op.kind {
		case opReg:
			inst.CallReg = op.reg
			if p := s.Regs.Get(op.reg); p != Unknown {
				inst.Via = p.String()
			}
		case opMem:
			inst.Via = parts[0]
		}
	}

	if d.constImm {
		imm := d.ops[len(d.ops)-1]
		r.note(s.immediateComment(imm.imm, imm.size, &inst))
	}
	if inst.Dst >= 0 {
		inst.Value = valueOf(&inst)
	}

	for _, n := range s.idioms.Step(&s.Regs, d.effect, s.conv) {
		r.note(n)
	}
	if len(d.failures) > 0 {
		inst.Status = StatusFailed
		s.Failed = true
		for _, f := range d.failures {
			r.note("TODO: " + f)
			s.Diags.Add(addr, diag.KindDisallowed, f)
		}
	}

	var text strings.Builder
	if d.p.lock {
		text.WriteString("lock ")
	}
	text.WriteString(d.repShown)
	text.WriteString(d.mnem)
	if inst.Operands != "" {
		text.WriteByte(' ')
		text.WriteString(inst.Operands)
	}
	inst.Comment = strings.Join(r.comments, "; ")
	if inst.Comment != "" {
		text.WriteString(" // ")
		text.WriteString(inst.Comment)
	}
	inst.Text = text.String()
	return inst
}

// valueOf names the value an instruction loads into its destination
// register, when it is known.
func valueOf(inst *Inst) string {
	if inst.Mem != nil && inst.Mem.Field != "" && !inst.Mem.Store {
		return inst.Mem.Prov.String() + "." + inst.Mem.Field
	}
	if inst.TargetName != "" && (inst.Mnemonic == "mov" || inst.Mnemonic == "lea") {
		return inst.TargetName
	}
	return ""
}

var readOnlyMem = map[string]bool{
	"cmp": true, "test": true, "bt": true, "push": true, "call": true,
	"jmp": true, "nop": true, "clflush": true, "ldmxcsr": true, "fxrstor": true,
	"xrstor": true, "prefetchnta": true, "prefetcht0": true, "prefetcht1": true,
	"prefetcht2": true,
}

// recordMem notes the first memory operand addressed off a register whose
// provenance is known.
func (s *Session) recordMem(d *decoder, inst *Inst) {
	for i, op := range d.ops {
		if op.kind != opMem || op.base < 0 || op.index >= 0 || d.mnem == "lea" {
			continue
		}
		p := s.Regs.Get(op.base)
		if p != ThreadPointer && p != FramePointer {
			return
		}
		inst.Mem = &MemRef{
			Base:  op.base,
			Prov:  p,
			Disp:  op.disp,
			Width: op.size,
			Store: i == 0 && !readOnlyMem[d.mnem],
		}
		return
	}
}

func hexBytes(raw []byte) string {
	var b strings.Builder
	b.WriteString(".byte ")
	for i, x := range raw {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "0x%02x", x)
	}
	return b.String()
}

// unknown skips an encoding the decoder has no handler for. The skip length
// comes from the reference decoder when it recognises the bytes, otherwise
// it is one byte.
func (s *Session) unknown(c *ByteCursor, addr uint64) Inst {
	buf := c.Lookahead(maxInstLen - c.Len())
	n := 1
	if xi, err := x86asm.Decode(buf, 64); err == nil && xi.Len > 0 {
		n = xi.Len
	}
	c.Cut(n)
	raw := append([]byte(nil), c.Consumed()...)
	s.Diags.Addf(addr, diag.KindUnknown, "unknown encoding % x", raw)
	return Inst{
		Addr:     addr,
		Raw:      raw,
		Size:     len(raw),
		Mnemonic: ".byte",
		Operands: strings.TrimPrefix(hexBytes(raw), ".byte "),
		Comment:  "unknown instruction",
		Text:     hexBytes(raw) + " // unknown instruction",
		Status:   StatusUnknown,
		Dst:      -1,
		CallReg:  -1,
	}
}

// truncated renders an encoding cut off by the end of the window.
func (s *Session) truncated(c *ByteCursor, addr uint64) Inst {
	raw := append([]byte(nil), c.Consumed()...)
	s.Diags.Addf(addr, diag.KindTruncated, "%d trailing bytes", len(raw))
	return Inst{
		Addr:     addr,
		Raw:      raw,
		Size:     len(raw),
		Mnemonic: ".byte",
		Operands: strings.TrimPrefix(hexBytes(raw), ".byte "),
		Comment:  "truncated instruction",
		Text:     hexBytes(raw) + " // truncated instruction",
		Status:   StatusTruncated,
		Dst:      -1,
		CallReg:  -1,
	}
}
