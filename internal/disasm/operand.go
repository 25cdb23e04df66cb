package disasm

import (
	"fmt"
	"strings"
)

type opKind uint8

const (
	opReg opKind = iota + 1
	opXmm
	opMem
	opImm
	opRel
)

// operand is a decoded but not yet rendered operand. Rendering waits until
// the instruction length is known because rip-relative addresses depend on
// it.
type operand struct {
	kind opKind
	size int // bytes
	reg  int

	base, index int // -1 if absent
	scale       int
	disp        int64
	rip         bool
	ptr         bool // force a size hint

	imm     int64
	logical bool

	target uint64
}

func regOp(n, size int) operand { return operand{kind: opReg, reg: n, size: size} }
func xmmOp(n int) operand       { return operand{kind: opXmm, reg: n, size: 16} }

func immOp(v int64, size int) operand {
	return operand{kind: opImm, imm: v, size: size}
}

// modrm holds the three ModRM fields, reg and rm already extended by REX.
type modrm struct {
	mod    byte
	reg    int
	rm     int
	rmBase int // rm before REX.B, needed for the SIB and rip special cases
}

func (d *decoder) readModRM() (modrm, error) {
	b, err := d.c.ReadByte()
	if err != nil {
		return modrm{}, err
	}
	m := modrm{
		mod:    b >> 6,
		reg:    int(b>>3&7) | d.p.rexR(),
		rmBase: int(b & 7),
	}
	m.rm = m.rmBase | d.p.rexB()
	return m, nil
}

// rmOperand decodes the r/m side of a ModRM byte: a register when mod is 3,
// otherwise a memory operand with optional SIB and displacement.
func (d *decoder) rmOperand(m modrm, size int) (operand, error) {
	if m.mod == 3 {
		return regOp(m.rm, size), nil
	}
	return d.memOperand(m, size)
}

func (d *decoder) rmXmm(m modrm, size int) (operand, error) {
	if m.mod == 3 {
		return xmmOp(m.rm), nil
	}
	return d.memOperand(m, size)
}

func (d *decoder) memOperand(m modrm, size int) (operand, error) {
	op := operand{kind: opMem, size: size, base: -1, index: -1, scale: 1}
	switch {
	case m.rmBase == 4:
		sib, err := d.c.ReadByte()
		if err != nil {
			return op, err
		}
		op.scale = 1 << (sib >> 6)
		if idx := int(sib>>3&7) | d.p.rexX(); idx != RSP {
			op.index = idx
		}
		if sib&7 == 5 && m.mod == 0 {
			// No base: disp32 only.
			v, err := d.c.ReadImm(4)
			if err != nil {
				return op, err
			}
			op.disp = v
			return op, nil
		}
		op.base = int(sib&7) | d.p.rexB()
	case m.rmBase == 5 && m.mod == 0:
		v, err := d.c.ReadImm(4)
		if err != nil {
			return op, err
		}
		op.rip = true
		op.disp = v
		return op, nil
	default:
		op.base = m.rm
	}
	switch m.mod {
	case 1:
		v, err := d.c.ReadImm(1)
		if err != nil {
			return op, err
		}
		op.disp = v
	case 2:
		v, err := d.c.ReadImm(4)
		if err != nil {
			return op, err
		}
		op.disp = v
	}
	return op, nil
}

// renderer turns operands into text once the instruction is complete.
type renderer struct {
	s        *Session
	p        prefixes
	next     uint64 // address of the following instruction
	comments []string
	inst     *Inst
}

func (r *renderer) note(s string) {
	if s != "" {
		r.comments = append(r.comments, s)
	}
}

func (r *renderer) regName(n, size int) string {
	if r.p.addrsize {
		return RegName(n, 4, true)
	}
	return r.s.Regs.render(n, size, r.p.rex != 0)
}

func (r *renderer) operand(op operand, hint bool) string {
	switch op.kind {
	case opReg:
		return r.s.Regs.render(op.reg, op.size, r.p.rex != 0)
	case opXmm:
		return XMMName(op.reg)
	case opImm:
		return formatImm(op.imm, op.size, op.logical, r.s.immBase)
	case opRel:
		return fmt.Sprintf("0x%x", op.target) + r.s.targetSuffix(op.target, r.inst)
	case opMem:
		return r.mem(op, hint || op.ptr)
	}
	return "?"
}

func (r *renderer) mem(op operand, hint bool) string {
	var b strings.Builder
	if hint {
		b.WriteString(sizePtr[op.size])
	}
	if r.p.seg != "" {
		b.WriteString(r.p.seg)
		b.WriteByte(':')
	}
	b.WriteByte('[')
	switch {
	case op.rip:
		target := r.next + uint64(op.disp)
		r.inst.Target, r.inst.HasTarget = target, true
		if name, ok := lookupTable(r.s.opts.Tables, target); ok {
			b.WriteString(name)
			break
		}
		ip := "rip"
		if r.p.addrsize {
			ip = "eip"
		}
		b.WriteString(ip)
		if op.disp != 0 {
			b.WriteString(formatDisp(op.disp))
		}
		r.note(r.s.addressComment(target, r.inst))
	case op.base < 0 && op.index < 0:
		// disp32 is sign-extended to 64 bits, or zero-extended under 0x67.
		addr := uint64(op.disp)
		if r.p.addrsize {
			addr = uint64(uint32(op.disp))
		}
		if name, ok := lookupTable(r.s.opts.Tables, addr); ok {
			b.WriteString(name)
			break
		}
		fmt.Fprintf(&b, "0x%x", addr)
	default:
		sep := ""
		if op.base >= 0 {
			b.WriteString(r.regName(op.base, 8))
			sep = "+"
		}
		if op.index >= 0 {
			fmt.Fprintf(&b, "%s%s*%d", sep, r.regName(op.index, 8), op.scale)
		}
		if op.base >= 0 && op.index < 0 {
			prov := r.s.Regs.Get(op.base)
			if name, ok := r.s.opts.Fields.Lookup(prov, op.disp); ok {
				b.WriteString("+" + name)
				if r.inst.Mem != nil {
					r.inst.Mem.Field = name
				}
				break
			}
		}
		if op.disp != 0 {
			b.WriteString(formatDisp(op.disp))
		} else if op.base < 0 {
			b.WriteString("+0")
		}
	}
	b.WriteByte(']')
	return b.String()
}
