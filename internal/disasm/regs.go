package disasm

import (
	"fmt"
	"strings"
)

// General-purpose register numbers.
const (
	RAX = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// NumRegs is the number of general-purpose registers.
const NumRegs = 16

var reg64 = [NumRegs]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

var reg32 = [NumRegs]string{
	"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
	"r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d",
}

var reg16 = [NumRegs]string{
	"ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
	"r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w",
}

// With any REX prefix, byte registers 4-7 are the low bytes of rsp..rdi.
var reg8rex = [NumRegs]string{
	"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil",
	"r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b",
}

var reg8legacy = [8]string{"al", "cl", "dl", "bl", "ah", "ch", "dh", "bh"}

// RegName returns the name of register n accessed with the given width in
// bytes. rex reports whether the instruction carried a REX prefix, which
// changes the meaning of byte registers 4-7.
func RegName(n, size int, rex bool) string {
	if n < 0 || n >= NumRegs {
		return fmt.Sprintf("r?%d", n)
	}
	switch size {
	case 1:
		if !rex && n < 8 {
			return reg8legacy[n]
		}
		return reg8rex[n]
	case 2:
		return reg16[n]
	case 4:
		return reg32[n]
	}
	return reg64[n]
}

// XMMName returns the name of SSE register n.
func XMMName(n int) string { return fmt.Sprintf("xmm%d", n) }

// ParseReg maps a 64-bit register name to its number.
func ParseReg(name string) (int, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range reg64 {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

var sizePtr = map[int]string{
	1:  "byte ptr ",
	2:  "word ptr ",
	4:  "dword ptr ",
	8:  "qword ptr ",
	16: "xmmword ptr ",
}

var condNames = [16]string{
	"o", "no", "b", "ae", "e", "ne", "be", "a",
	"s", "ns", "p", "np", "l", "ge", "le", "g",
}
