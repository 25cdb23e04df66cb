package disasm

import (
	"errors"
	"fmt"
)

var errUnknown = errors.New("disasm: unknown instruction")

// maxInstLen is the architectural limit on instruction length.
const maxInstLen = 15

type prefixes struct {
	opsize   bool // 0x66
	addrsize bool // 0x67
	lock     bool
	rep      bool // 0xf3
	repne    bool // 0xf2
	seg      string
	rex      byte
}

func (p prefixes) rexW() bool { return p.rex&8 != 0 }
func (p prefixes) rexR() int  { return int(p.rex>>2&1) << 3 }
func (p prefixes) rexX() int  { return int(p.rex>>1&1) << 3 }
func (p prefixes) rexB() int  { return int(p.rex&1) << 3 }

// decoder holds the state of one instruction while it is being decoded.
type decoder struct {
	s *Session
	c *ByteCursor
	p prefixes

	mnem   string
	ops    []operand
	effect Effect
	branch BranchKind

	lockable  bool // form accepts a lock prefix
	mandatory bool // 66/f2/f3 consumed as part of the opcode
	repShown  string
	constImm  bool // mov of an immediate; eligible for constant comments
	failures  []string
}

func (d *decoder) fail(format string, args ...any) {
	d.failures = append(d.failures, fmt.Sprintf(format, args...))
}

// osize is the operand size selected by REX.W and the 0x66 prefix.
func (d *decoder) osize() int {
	switch {
	case d.p.rexW():
		return 8
	case d.p.opsize && !d.mandatory:
		return 2
	}
	return 4
}

// stackSize is the operand size of push and pop: 64 bits unless 0x66.
func (d *decoder) stackSize() int {
	if d.p.opsize {
		return 2
	}
	return 8
}

func immWidth(size int) int {
	if size == 8 {
		return 4
	}
	return size
}

func (d *decoder) imm(size, width int) (operand, error) {
	v, err := d.c.ReadImm(width)
	if err != nil {
		return operand{}, err
	}
	return immOp(v, size), nil
}

func (d *decoder) rel(width int) (operand, error) {
	v, err := d.c.ReadImm(width)
	if err != nil {
		return operand{}, err
	}
	// The displacement is the last field, so the cursor is at the next
	// instruction.
	return operand{kind: opRel, target: d.c.Addr() + uint64(v)}, nil
}

// writes records that dst is overwritten in a way no idiom models.
func (d *decoder) writes(dst operand) {
	if dst.kind == opReg {
		d.effect = Effect{Op: OpOther, Dst: dst.reg, Src: -1, Width: dst.size}
	}
}

func (d *decoder) arith(op OpKind, dst, src operand) {
	if op == OpNone || dst.kind != opReg {
		return
	}
	e := Effect{Op: op, Dst: dst.reg, Src: -1, Width: dst.size}
	switch src.kind {
	case opImm:
		e.Imm, e.HasImm = uint64(src.imm), true
	case opReg:
		e.Src = src.reg
	}
	d.effect = e
}

func (d *decoder) decode() error {
	var op byte
	for {
		b, err := d.c.ReadByte()
		if err != nil {
			return err
		}
		if d.c.Len() >= maxInstLen {
			return errUnknown
		}
		if b&0xf0 == 0x40 {
			d.p.rex = b
			continue
		}
		legacy := true
		switch b {
		case 0x66:
			d.p.opsize = true
		case 0x67:
			d.p.addrsize = true
		case 0xf0:
			d.p.lock = true
		case 0xf2:
			d.p.repne, d.p.rep = true, false
		case 0xf3:
			d.p.rep, d.p.repne = true, false
		case 0x26, 0x2e, 0x36, 0x3e:
			// Ignored in 64-bit mode.
		case 0x64:
			d.p.seg = "fs"
		case 0x65:
			d.p.seg = "gs"
		default:
			legacy = false
		}
		if !legacy {
			op = b
			break
		}
		// REX only counts immediately before the opcode.
		d.p.rex = 0
	}
	if err := d.primary(op); err != nil {
		return err
	}
	if d.p.lock && !d.lockable {
		d.fail("lock prefix on a non-lockable form")
	}
	return nil
}

var aluNames = [8]string{"add", "or", "adc", "sbb", "and", "sub", "xor", "cmp"}

var shiftNames = [8]string{"rol", "ror", "rcl", "rcr", "shl", "shr", "shl", "sar"}

func aluKind(name string) OpKind {
	switch name {
	case "add":
		return OpAdd
	case "sub":
		return OpSub
	case "and":
		return OpAnd
	case "cmp", "test":
		return OpNone
	}
	return OpOther
}

func isLogical(name string) bool {
	return name == "and" || name == "or" || name == "xor" || name == "test"
}

func (d *decoder) primary(op byte) error {
	switch {
	case op < 0x40 && op&7 < 6:
		return d.alu(aluNames[op>>3], op&7)
	case op >= 0x50 && op <= 0x57:
		r := regOp(int(op&7)|d.p.rexB(), d.stackSize())
		d.mnem, d.ops = "push", []operand{r}
		d.effect = Effect{Op: OpPush, Dst: -1, Src: r.reg, Width: r.size}
		return nil
	case op >= 0x58 && op <= 0x5f:
		r := regOp(int(op&7)|d.p.rexB(), d.stackSize())
		d.mnem, d.ops = "pop", []operand{r}
		d.effect = Effect{Op: OpPop, Dst: r.reg, Src: -1, Width: r.size}
		return nil
	case op >= 0x70 && op <= 0x7f:
		return d.jcc(op&0xf, 1)
	case op >= 0x91 && op <= 0x97:
		size := d.osize()
		r := regOp(int(op&7)|d.p.rexB(), size)
		d.mnem, d.ops = "xchg", []operand{r, regOp(RAX, size)}
		d.effect = Effect{Op: OpXchg, Dst: r.reg, Src: RAX, Width: size}
		return nil
	case op >= 0xb0 && op <= 0xb7:
		return d.movImm(regOp(int(op&7)|d.p.rexB(), 1), 1)
	case op >= 0xb8 && op <= 0xbf:
		size := d.osize()
		return d.movImm(regOp(int(op&7)|d.p.rexB(), size), size)
	}

	switch op {
	case 0x0f:
		return d.escape0F()
	case 0x63:
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		src, err := d.rmOperand(m, 4)
		if err != nil {
			return err
		}
		src.ptr = true
		dst := regOp(m.reg, d.osize())
		d.mnem, d.ops = "movsxd", []operand{dst, src}
		d.writes(dst)
	case 0x68, 0x6a:
		width := 4
		if op == 0x6a {
			width = 1
		}
		v, err := d.imm(d.stackSize(), width)
		if err != nil {
			return err
		}
		d.mnem, d.ops = "push", []operand{v}
		d.effect = Effect{Op: OpPush, Dst: -1, Src: -1, Width: 8}
	case 0x69, 0x6b:
		size := d.osize()
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		src, err := d.rmOperand(m, size)
		if err != nil {
			return err
		}
		width := immWidth(size)
		if op == 0x6b {
			width = 1
		}
		v, err := d.imm(size, width)
		if err != nil {
			return err
		}
		dst := regOp(m.reg, size)
		d.mnem, d.ops = "imul", []operand{dst, src, v}
		d.writes(dst)
	case 0x80, 0x81, 0x83:
		return d.group1(op)
	case 0x84, 0x85:
		return d.modrmPair("test", op&1, false)
	case 0x86, 0x87:
		size := 1
		if op == 0x87 {
			size = d.osize()
		}
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		rm, err := d.rmOperand(m, size)
		if err != nil {
			return err
		}
		r := regOp(m.reg, size)
		d.mnem, d.ops = "xchg", []operand{rm, r}
		d.lockable = rm.kind == opMem
		if rm.kind == opReg {
			d.effect = Effect{Op: OpXchg, Dst: rm.reg, Src: r.reg, Width: size}
		} else {
			d.writes(r)
		}
	case 0x88, 0x89, 0x8a, 0x8b:
		size := 1
		if op&1 == 1 {
			size = d.osize()
		}
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		rm, err := d.rmOperand(m, size)
		if err != nil {
			return err
		}
		r := regOp(m.reg, size)
		dst, src := rm, r
		if op >= 0x8a {
			dst, src = r, rm
		}
		d.mnem, d.ops = "mov", []operand{dst, src}
		d.move(dst, src)
	case 0x8d:
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		if m.mod == 3 {
			d.fail("lea with a register source")
		}
		src, err := d.rmOperand(m, 0)
		if err != nil {
			return err
		}
		dst := regOp(m.reg, d.osize())
		d.mnem, d.ops = "lea", []operand{dst, src}
		d.writes(dst)
	case 0x8f:
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		if m.reg&7 != 0 {
			return errUnknown
		}
		rm, err := d.rmOperand(m, d.stackSize())
		if err != nil {
			return err
		}
		d.mnem, d.ops = "pop", []operand{rm}
		d.effect = Effect{Op: OpPop, Dst: -1, Src: -1, Width: rm.size}
		if rm.kind == opReg {
			d.effect.Dst = rm.reg
		}
	case 0x90:
		switch {
		case d.p.rexB() != 0:
			size := d.osize()
			d.mnem, d.ops = "xchg", []operand{regOp(R8, size), regOp(RAX, size)}
			d.effect = Effect{Op: OpXchg, Dst: R8, Src: RAX, Width: size}
		case d.p.rep:
			d.mnem, d.mandatory = "pause", true
		default:
			d.mnem = "nop"
		}
	case 0x98:
		d.mnem = map[int]string{2: "cbw", 4: "cwde", 8: "cdqe"}[d.osize()]
		d.effect = Effect{Op: OpOther, Dst: RAX, Src: -1, Width: d.osize()}
	case 0x99:
		d.mnem = map[int]string{2: "cwd", 4: "cdq", 8: "cqo"}[d.osize()]
		d.effect = Effect{Op: OpOther, Dst: RDX, Src: -1, Width: d.osize()}
	case 0xa4, 0xa5, 0xa6, 0xa7, 0xaa, 0xab, 0xac, 0xad, 0xae, 0xaf:
		d.stringOp(op)
	case 0xa8, 0xa9:
		size := 1
		if op == 0xa9 {
			size = d.osize()
		}
		v, err := d.imm(size, immWidth(size))
		if err != nil {
			return err
		}
		v.logical = true
		d.mnem, d.ops = "test", []operand{regOp(RAX, size), v}
	case 0xc0, 0xc1, 0xd0, 0xd1, 0xd2, 0xd3:
		return d.shift(op)
	case 0xc2:
		v, err := d.imm(2, 2)
		if err != nil {
			return err
		}
		v.logical = true
		d.mnem, d.ops, d.branch = "ret", []operand{v}, BranchReturn
	case 0xc3:
		d.mnem, d.branch = "ret", BranchReturn
	case 0xc6, 0xc7:
		size := 1
		if op == 0xc7 {
			size = d.osize()
		}
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		if m.reg&7 != 0 {
			d.fail("mov immediate with reg field %d", m.reg&7)
		}
		rm, err := d.rmOperand(m, size)
		if err != nil {
			return err
		}
		v, err := d.imm(size, immWidth(size))
		if err != nil {
			return err
		}
		v.logical = true
		d.mnem, d.ops, d.constImm = "mov", []operand{rm, v}, true
		d.writes(rm)
	case 0xc8:
		frame, err := d.imm(2, 2)
		if err != nil {
			return err
		}
		level, err := d.imm(1, 1)
		if err != nil {
			return err
		}
		frame.logical, level.logical = true, true
		d.mnem, d.ops = "enter", []operand{frame, level}
		d.effect = Effect{Op: OpOther, Dst: RBP, Src: -1, Width: 8}
	case 0xc9:
		d.mnem = "leave"
		d.effect = Effect{Op: OpPop, Dst: RBP, Src: -1, Width: 8}
	case 0xcc:
		d.mnem = "int3"
	case 0xcd:
		v, err := d.imm(1, 1)
		if err != nil {
			return err
		}
		v.logical = true
		d.mnem, d.ops = "int", []operand{v}
	case 0xe0, 0xe1, 0xe2, 0xe3:
		t, err := d.rel(1)
		if err != nil {
			return err
		}
		d.mnem = [4]string{"loopne", "loope", "loop", "jrcxz"}[op&3]
		d.ops, d.branch = []operand{t}, BranchCond
		if op != 0xe3 {
			d.effect = Effect{Op: OpOther, Dst: RCX, Src: -1, Width: 8}
		}
	case 0xe8:
		t, err := d.rel(4)
		if err != nil {
			return err
		}
		d.mnem, d.ops, d.branch = "call", []operand{t}, BranchCall
		d.effect = Effect{Op: OpCall, Dst: -1, Src: -1}
	case 0xe9, 0xeb:
		width := 4
		if op == 0xeb {
			width = 1
		}
		t, err := d.rel(width)
		if err != nil {
			return err
		}
		d.mnem, d.ops, d.branch = "jmp", []operand{t}, BranchJump
	case 0xf4:
		d.mnem = "hlt"
	case 0xf5:
		d.mnem = "cmc"
	case 0xf6, 0xf7:
		return d.group3(op)
	case 0xf8, 0xf9, 0xfa, 0xfb, 0xfc, 0xfd:
		d.mnem = [6]string{"clc", "stc", "cli", "sti", "cld", "std"}[op-0xf8]
	case 0xfe, 0xff:
		return d.group45(op)
	default:
		return errUnknown
	}
	return nil
}

func (d *decoder) move(dst, src operand) {
	if dst.kind != opReg {
		return
	}
	if src.kind == opReg {
		d.effect = Effect{Op: OpMove, Dst: dst.reg, Src: src.reg, Width: dst.size}
		return
	}
	d.writes(dst)
}

func (d *decoder) movImm(dst operand, size int) error {
	v, err := d.imm(size, size)
	if err != nil {
		return err
	}
	v.logical = true
	d.mnem, d.ops, d.constImm = "mov", []operand{dst, v}, true
	d.writes(dst)
	return nil
}

// modrmPair decodes "op r/m, reg" with the byte or full operand size.
func (d *decoder) modrmPair(name string, wide byte, toReg bool) error {
	size := 1
	if wide == 1 {
		size = d.osize()
	}
	m, err := d.readModRM()
	if err != nil {
		return err
	}
	rm, err := d.rmOperand(m, size)
	if err != nil {
		return err
	}
	r := regOp(m.reg, size)
	d.mnem = name
	if toReg {
		d.ops = []operand{r, rm}
	} else {
		d.ops = []operand{rm, r}
	}
	return nil
}

func (d *decoder) alu(name string, form byte) error {
	kind := aluKind(name)
	switch form {
	case 0, 1, 2, 3:
		if err := d.modrmPair(name, form&1, form >= 2); err != nil {
			return err
		}
		dst, src := d.ops[0], d.ops[1]
		d.lockable = form < 2 && dst.kind == opMem && name != "cmp"
		if (name == "xor" || name == "sub") && dst.kind == opReg && src.kind == opReg && dst.reg == src.reg {
			// Zeroing idiom.
			d.writes(dst)
			return nil
		}
		d.arith(kind, dst, src)
	default:
		size := 1
		if form == 5 {
			size = d.osize()
		}
		v, err := d.imm(size, immWidth(size))
		if err != nil {
			return err
		}
		v.logical = isLogical(name)
		d.mnem, d.ops = name, []operand{regOp(RAX, size), v}
		d.arith(kind, d.ops[0], v)
	}
	return nil
}

func (d *decoder) group1(op byte) error {
	size := 1
	if op != 0x80 {
		size = d.osize()
	}
	m, err := d.readModRM()
	if err != nil {
		return err
	}
	rm, err := d.rmOperand(m, size)
	if err != nil {
		return err
	}
	width := 1
	if op == 0x81 {
		width = immWidth(size)
	}
	v, err := d.imm(size, width)
	if err != nil {
		return err
	}
	name := aluNames[m.reg&7]
	v.logical = isLogical(name)
	d.mnem, d.ops = name, []operand{rm, v}
	d.lockable = rm.kind == opMem && name != "cmp"
	d.arith(aluKind(name), rm, v)
	return nil
}

func (d *decoder) shift(op byte) error {
	size := 1
	if op&1 == 1 {
		size = d.osize()
	}
	m, err := d.readModRM()
	if err != nil {
		return err
	}
	rm, err := d.rmOperand(m, size)
	if err != nil {
		return err
	}
	rm.ptr = true
	var count operand
	switch op {
	case 0xc0, 0xc1:
		if count, err = d.imm(1, 1); err != nil {
			return err
		}
		count.imm &= 0xff
	case 0xd0, 0xd1:
		count = immOp(1, 1)
	default:
		count = regOp(RCX, 1)
	}
	name := shiftNames[m.reg&7]
	d.mnem, d.ops = name, []operand{rm, count}

	kind := OpOther
	switch name {
	case "shl":
		kind = OpShl
	case "shr", "sar":
		kind = OpShr
	}
	d.arith(kind, rm, count)
	if count.kind == opReg && rm.kind == opReg {
		// Shift by cl: the amount is unknown.
		d.effect.Op, d.effect.Src = OpOther, -1
	}
	return nil
}

func (d *decoder) group3(op byte) error {
	size := 1
	if op == 0xf7 {
		size = d.osize()
	}
	m, err := d.readModRM()
	if err != nil {
		return err
	}
	rm, err := d.rmOperand(m, size)
	if err != nil {
		return err
	}
	switch sub := m.reg & 7; sub {
	case 0, 1:
		v, err := d.imm(size, immWidth(size))
		if err != nil {
			return err
		}
		v.logical = true
		d.mnem, d.ops = "test", []operand{rm, v}
	case 2, 3:
		d.mnem, d.ops = [2]string{"not", "neg"}[sub-2], []operand{rm}
		d.lockable = rm.kind == opMem
		d.writes(rm)
	default:
		d.mnem, d.ops = [4]string{"mul", "imul", "div", "idiv"}[sub-4], []operand{rm}
		clobber := []int{RAX, RDX}
		if size == 1 {
			clobber = clobber[:1]
		}
		d.effect = Effect{Op: OpOther, Dst: -1, Src: -1, Width: size, Clobber: clobber}
	}
	return nil
}

func (d *decoder) group45(op byte) error {
	m, err := d.readModRM()
	if err != nil {
		return err
	}
	sub := m.reg & 7
	if op == 0xfe && sub > 1 {
		return errUnknown
	}
	switch sub {
	case 0, 1:
		size := 1
		if op == 0xff {
			size = d.osize()
		}
		rm, err := d.rmOperand(m, size)
		if err != nil {
			return err
		}
		d.mnem, d.ops = [2]string{"inc", "dec"}[sub], []operand{rm}
		d.lockable = rm.kind == opMem
		d.writes(rm)
	case 2, 4:
		rm, err := d.rmOperand(m, 8)
		if err != nil {
			return err
		}
		d.ops = []operand{rm}
		if sub == 2 {
			d.mnem, d.branch = "call", BranchIndirectCall
			d.effect = Effect{Op: OpCall, Dst: -1, Src: -1}
		} else {
			d.mnem, d.branch = "jmp", BranchIndirectJump
		}
	case 6:
		rm, err := d.rmOperand(m, d.stackSize())
		if err != nil {
			return err
		}
		d.mnem, d.ops = "push", []operand{rm}
		d.effect = Effect{Op: OpPush, Dst: -1, Src: -1, Width: 8}
	default:
		// Far call/jmp and /7 have no use in generated 64-bit code.
		return errUnknown
	}
	return nil
}

func (d *decoder) jcc(cc byte, width int) error {
	t, err := d.rel(width)
	if err != nil {
		return err
	}
	d.mnem, d.ops, d.branch = "j"+condNames[cc], []operand{t}, BranchCond
	return nil
}

var stringOps = map[byte]string{
	0xa4: "movs", 0xa6: "cmps", 0xaa: "stos", 0xac: "lods", 0xae: "scas",
}

func (d *decoder) stringOp(op byte) {
	size := 1
	if op&1 == 1 {
		size = d.osize()
	}
	d.mnem = stringOps[op&^1] + string("bwdq"[map[int]int{1: 0, 2: 1, 4: 2, 8: 3}[size]])

	compares := op&^1 == 0xa6 || op&^1 == 0xae
	switch {
	case d.p.rep && compares:
		d.repShown = "repe "
	case d.p.rep:
		d.repShown = "rep "
	case d.p.repne:
		d.repShown = "repne "
	}

	var clobber []int
	switch op &^ 1 {
	case 0xa4, 0xa6:
		clobber = []int{RSI, RDI}
	case 0xaa, 0xae:
		clobber = []int{RDI}
	case 0xac:
		clobber = []int{RSI, RAX}
	}
	if d.repShown != "" {
		clobber = append(clobber, RCX)
	}
	d.effect = Effect{Op: OpOther, Dst: -1, Src: -1, Width: size, Clobber: clobber}
}
