package disasm

// Two- and three-byte opcode maps (0f, 0f 38, 0f 3a).

func (d *decoder) escape0F() error {
	op, err := d.c.ReadByte()
	if err != nil {
		return err
	}
	switch {
	case op >= 0x40 && op <= 0x4f:
		if err := d.modrmPair("cmov"+condNames[op&0xf], 1, true); err != nil {
			return err
		}
		d.writes(d.ops[0])
		return nil
	case op >= 0x80 && op <= 0x8f:
		return d.jcc(op&0xf, 4)
	case op >= 0x90 && op <= 0x9f:
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		rm, err := d.rmOperand(m, 1)
		if err != nil {
			return err
		}
		d.mnem, d.ops = "set"+condNames[op&0xf], []operand{rm}
		d.writes(rm)
		return nil
	case op >= 0xc8 && op <= 0xcf:
		r := regOp(int(op&7)|d.p.rexB(), d.osize())
		d.mnem, d.ops = "bswap", []operand{r}
		d.writes(r)
		return nil
	}

	switch op {
	case 0x05:
		d.mnem = "syscall"
		d.effect = Effect{Op: OpOther, Dst: RAX, Src: -1, Width: 8, Clobber: []int{RCX, R11}}
	case 0x0b:
		d.mnem = "ud2"
	case 0x18:
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		if m.mod == 3 || m.reg&7 > 3 {
			return errUnknown
		}
		mem, err := d.memOperand(m, 1)
		if err != nil {
			return err
		}
		d.mnem = [4]string{"prefetchnta", "prefetcht0", "prefetcht1", "prefetcht2"}[m.reg&7]
		d.ops = []operand{mem}
	case 0x1f:
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		rm, err := d.rmOperand(m, d.osize())
		if err != nil {
			return err
		}
		rm.ptr = true
		d.mnem, d.ops = "nop", []operand{rm}
	case 0x31:
		d.mnem = "rdtsc"
		d.effect = Effect{Op: OpOther, Dst: -1, Src: -1, Clobber: []int{RAX, RDX}}
	case 0xa2:
		d.mnem = "cpuid"
		d.effect = Effect{Op: OpOther, Dst: -1, Src: -1, Clobber: []int{RAX, RBX, RCX, RDX}}
	case 0xa3, 0xab, 0xb3, 0xbb:
		name := map[byte]string{0xa3: "bt", 0xab: "bts", 0xb3: "btr", 0xbb: "btc"}[op]
		if err := d.modrmPair(name, 1, false); err != nil {
			return err
		}
		d.lockable = op != 0xa3 && d.ops[0].kind == opMem
		if op != 0xa3 {
			d.writes(d.ops[0])
		}
	case 0xba:
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		sub := m.reg & 7
		if sub < 4 {
			return errUnknown
		}
		rm, err := d.rmOperand(m, d.osize())
		if err != nil {
			return err
		}
		v, err := d.imm(1, 1)
		if err != nil {
			return err
		}
		v.imm &= 0xff
		d.mnem, d.ops = [4]string{"bt", "bts", "btr", "btc"}[sub-4], []operand{rm, v}
		d.lockable = sub != 4 && rm.kind == opMem
		if sub != 4 {
			d.writes(rm)
		}
	case 0xa4, 0xa5, 0xac, 0xad:
		name := "shld"
		if op >= 0xac {
			name = "shrd"
		}
		if err := d.modrmPair(name, 1, false); err != nil {
			return err
		}
		if op&1 == 0 {
			v, err := d.imm(1, 1)
			if err != nil {
				return err
			}
			v.imm &= 0xff
			d.ops = append(d.ops, v)
		} else {
			d.ops = append(d.ops, regOp(RCX, 1))
		}
		d.writes(d.ops[0])
	case 0xaf:
		if err := d.modrmPair("imul", 1, true); err != nil {
			return err
		}
		d.writes(d.ops[0])
	case 0xb0, 0xb1, 0xc0, 0xc1:
		name := "cmpxchg"
		if op >= 0xc0 {
			name = "xadd"
		}
		if err := d.modrmPair(name, op&1, false); err != nil {
			return err
		}
		d.lockable = d.ops[0].kind == opMem
		d.writes(d.ops[0])
		if name == "cmpxchg" {
			d.effect.Clobber = []int{RAX}
		} else if d.ops[1].kind == opReg {
			d.effect.Clobber = []int{d.ops[1].reg}
		}
		if d.effect.Op == OpNone {
			d.effect.Op, d.effect.Dst, d.effect.Src = OpOther, -1, -1
		}
	case 0xb6, 0xb7, 0xbe, 0xbf:
		srcSize := 1
		if op&1 == 1 {
			srcSize = 2
		}
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		src, err := d.rmOperand(m, srcSize)
		if err != nil {
			return err
		}
		src.ptr = true
		dst := regOp(m.reg, d.osize())
		d.mnem = "movzx"
		if op >= 0xbe {
			d.mnem = "movsx"
		}
		d.ops = []operand{dst, src}
		d.writes(dst)
	case 0xb8, 0xbc, 0xbd:
		var name string
		switch {
		case d.p.rep:
			d.mandatory = true
			name = map[byte]string{0xb8: "popcnt", 0xbc: "tzcnt", 0xbd: "lzcnt"}[op]
		case op == 0xb8:
			return errUnknown
		default:
			name = map[byte]string{0xbc: "bsf", 0xbd: "bsr"}[op]
		}
		if err := d.modrmPair(name, 1, true); err != nil {
			return err
		}
		d.writes(d.ops[0])
	case 0xae:
		return d.group15()
	case 0xc7:
		m, err := d.readModRM()
		if err != nil {
			return err
		}
		if m.reg&7 != 1 || m.mod == 3 {
			return errUnknown
		}
		size := 8
		d.mnem = "cmpxchg8b"
		if d.p.rexW() {
			size, d.mnem = 16, "cmpxchg16b"
		}
		mem, err := d.memOperand(m, size)
		if err != nil {
			return err
		}
		mem.ptr = true
		d.ops, d.lockable = []operand{mem}, true
		d.effect = Effect{Op: OpOther, Dst: -1, Src: -1, Clobber: []int{RAX, RDX}}
	case 0x10, 0x11, 0x28, 0x29, 0x2a, 0x2c, 0x2d, 0x2e, 0x2f,
		0x51, 0x54, 0x57, 0x58, 0x59, 0x5a, 0x5c, 0x5d, 0x5e, 0x5f,
		0x6e, 0x7e, 0xd6, 0xef:
		return d.sse(op)
	case 0x38:
		return d.escape0F38()
	case 0x3a:
		return d.escape0F3A()
	default:
		return errUnknown
	}
	return nil
}

func (d *decoder) group15() error {
	m, err := d.readModRM()
	if err != nil {
		return err
	}
	sub := m.reg & 7
	if m.mod == 3 {
		if sub < 5 {
			d.fail("register form of 0f ae /%d", sub)
			d.mnem = "(bad)"
			return nil
		}
		d.mnem = [3]string{"lfence", "mfence", "sfence"}[sub-5]
		return nil
	}
	mem, err := d.memOperand(m, 0)
	if err != nil {
		return err
	}
	d.mnem = [8]string{"fxsave", "fxrstor", "ldmxcsr", "stmxcsr", "xsave", "xrstor", "xsaveopt", "clflush"}[sub]
	d.ops = []operand{mem}
	return nil
}

// ssePrefix consumes the mandatory prefix of an SSE opcode and returns
// its index: 0 none, 1 66, 2 f3, 3 f2.
func (d *decoder) ssePrefix() int {
	d.mandatory = true
	switch {
	case d.p.repne:
		return 3
	case d.p.rep:
		return 2
	case d.p.opsize:
		return 1
	}
	return 0
}

var (
	sseSuffix = [4]string{"ps", "pd", "ss", "sd"}
	sseSize   = [4]int{16, 16, 4, 8}
	sseArith  = map[byte]string{
		0x51: "sqrt", 0x58: "add", 0x59: "mul", 0x5c: "sub",
		0x5d: "min", 0x5e: "div", 0x5f: "max",
	}
)

func (d *decoder) sse(op byte) error {
	pfx := d.ssePrefix()
	gpr := 4
	if d.p.rexW() {
		gpr = 8
	}
	m, err := d.readModRM()
	if err != nil {
		return err
	}
	xreg := xmmOp(m.reg)

	switch op {
	case 0x10, 0x11:
		name := "movu" + sseSuffix[pfx]
		if pfx >= 2 {
			name = "mov" + sseSuffix[pfx]
		}
		rm, err := d.rmXmm(m, sseSize[pfx])
		if err != nil {
			return err
		}
		d.mnem, d.ops = name, []operand{xreg, rm}
		if op == 0x11 {
			d.ops = []operand{rm, xreg}
		}
	case 0x28, 0x29, 0x54, 0x57:
		if pfx >= 2 {
			return errUnknown
		}
		base := map[byte]string{0x28: "mova", 0x29: "mova", 0x54: "and", 0x57: "xor"}[op]
		rm, err := d.rmXmm(m, 16)
		if err != nil {
			return err
		}
		d.mnem, d.ops = base+sseSuffix[pfx], []operand{xreg, rm}
		if op == 0x29 {
			d.ops = []operand{rm, xreg}
		}
	case 0x2a:
		if pfx < 2 {
			return errUnknown
		}
		rm, err := d.rmOperand(m, gpr)
		if err != nil {
			return err
		}
		rm.ptr = true
		d.mnem, d.ops = "cvtsi2"+sseSuffix[pfx], []operand{xreg, rm}
	case 0x2c, 0x2d:
		if pfx < 2 {
			return errUnknown
		}
		rm, err := d.rmXmm(m, sseSize[pfx])
		if err != nil {
			return err
		}
		name := "cvt"
		if op == 0x2c {
			name = "cvtt"
		}
		dst := regOp(m.reg, gpr)
		d.mnem, d.ops = name+sseSuffix[pfx]+"2si", []operand{dst, rm}
		d.writes(dst)
	case 0x2e, 0x2f:
		if pfx >= 2 {
			return errUnknown
		}
		rm, err := d.rmXmm(m, [2]int{4, 8}[pfx])
		if err != nil {
			return err
		}
		name := "ucomis"
		if op == 0x2f {
			name = "comis"
		}
		d.mnem, d.ops = name+sseSuffix[pfx+2][1:], []operand{xreg, rm}
	case 0x5a:
		names := [4]string{"cvtps2pd", "cvtpd2ps", "cvtss2sd", "cvtsd2ss"}
		rm, err := d.rmXmm(m, [4]int{8, 16, 4, 8}[pfx])
		if err != nil {
			return err
		}
		d.mnem, d.ops = names[pfx], []operand{xreg, rm}
	case 0x6e:
		if pfx != 1 {
			return errUnknown
		}
		rm, err := d.rmOperand(m, gpr)
		if err != nil {
			return err
		}
		d.mnem, d.ops = map[int]string{4: "movd", 8: "movq"}[gpr], []operand{xreg, rm}
	case 0x7e:
		switch pfx {
		case 1:
			rm, err := d.rmOperand(m, gpr)
			if err != nil {
				return err
			}
			d.mnem, d.ops = map[int]string{4: "movd", 8: "movq"}[gpr], []operand{rm, xreg}
			d.writes(rm)
		case 2:
			rm, err := d.rmXmm(m, 8)
			if err != nil {
				return err
			}
			d.mnem, d.ops = "movq", []operand{xreg, rm}
		default:
			return errUnknown
		}
	case 0xd6:
		if pfx != 1 {
			return errUnknown
		}
		rm, err := d.rmXmm(m, 8)
		if err != nil {
			return err
		}
		d.mnem, d.ops = "movq", []operand{rm, xreg}
	case 0xef:
		if pfx != 1 {
			return errUnknown
		}
		rm, err := d.rmXmm(m, 16)
		if err != nil {
			return err
		}
		d.mnem, d.ops = "pxor", []operand{xreg, rm}
	default:
		rm, err := d.rmXmm(m, sseSize[pfx])
		if err != nil {
			return err
		}
		d.mnem, d.ops = sseArith[op]+sseSuffix[pfx], []operand{xreg, rm}
	}
	return nil
}

func (d *decoder) escape0F38() error {
	op, err := d.c.ReadByte()
	if err != nil {
		return err
	}
	if op != 0xf0 && op != 0xf1 {
		return errUnknown
	}
	m, err := d.readModRM()
	if err != nil {
		return err
	}
	if d.p.repne {
		d.mandatory = true
		size := 1
		if op == 0xf1 {
			size = d.osize()
		}
		src, err := d.rmOperand(m, size)
		if err != nil {
			return err
		}
		src.ptr = true
		dst := regOp(m.reg, 4)
		if d.p.rexW() {
			dst.size = 8
		}
		d.mnem, d.ops = "crc32", []operand{dst, src}
		d.writes(dst)
		return nil
	}
	if m.mod == 3 {
		return errUnknown
	}
	size := d.osize()
	mem, err := d.memOperand(m, size)
	if err != nil {
		return err
	}
	r := regOp(m.reg, size)
	d.mnem = "movbe"
	if op == 0xf0 {
		d.ops = []operand{r, mem}
		d.writes(r)
	} else {
		d.ops = []operand{mem, r}
	}
	return nil
}

func (d *decoder) escape0F3A() error {
	op, err := d.c.ReadByte()
	if err != nil {
		return err
	}
	if (op != 0x0a && op != 0x0b) || !d.p.opsize {
		return errUnknown
	}
	d.mandatory = true
	m, err := d.readModRM()
	if err != nil {
		return err
	}
	size := 4
	d.mnem = "roundss"
	if op == 0x0b {
		size, d.mnem = 8, "roundsd"
	}
	rm, err := d.rmXmm(m, size)
	if err != nil {
		return err
	}
	v, err := d.imm(1, 1)
	if err != nil {
		return err
	}
	v.logical = true
	d.ops = []operand{xmmOp(m.reg), rm, v}
	return nil
}
