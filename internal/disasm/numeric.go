package disasm

import (
	"fmt"
	"strconv"
)

// Bit patterns of well-known 64-bit constants.
var quadConstants = map[uint64]string{
	0x3FF0000000000000: "1.0",
	0x4000000000000000: "2.0",
	0x41DFFFFFFFC00000: "(double)max_int",
	0x43E0000000000000: "(double)max_long",
	0x8000000000000000: "sign mask",
	0x7FFFFFFFFFFFFFFF: "abs mask",
}

// Bit patterns of well-known 32-bit float constants.
var wordConstants = map[uint32]string{
	0x3F800000: "1.0f",
	0x40000000: "2.0f",
	0x80000000: "float sign mask",
	0x7FFFFFFF: "float abs mask",
}

func sizeMask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(size)) - 1
}

// formatImm renders an immediate. Logical operands are shown unsigned at the
// operand width; others are signed. base 16 prints with a 0x prefix, base 10
// as plain decimal, and any other base with a "_base" suffix.
func formatImm(v int64, size int, logical bool, base int) string {
	if logical {
		u := uint64(v) & sizeMask(size)
		switch base {
		case 16:
			return fmt.Sprintf("0x%x", u)
		case 10:
			return strconv.FormatUint(u, 10)
		}
		return strconv.FormatUint(u, base) + "_" + strconv.Itoa(base)
	}
	switch base {
	case 16:
		if v < 0 {
			return fmt.Sprintf("-0x%x", uint64(-v))
		}
		return fmt.Sprintf("0x%x", v)
	case 10:
		return strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, base) + "_" + strconv.Itoa(base)
}

// formatDisp renders a memory displacement including its sign: decimal
// below 256, hex above.
func formatDisp(d int64) string {
	sign := "+"
	u := uint64(d)
	if d < 0 {
		sign = "-"
		u = uint64(-d)
	}
	if u < 256 {
		return fmt.Sprintf("%s%d", sign, u)
	}
	return fmt.Sprintf("%s0x%x", sign, u)
}

// constantComment names an immediate that matches a known bit pattern.
func constantComment(v int64, size int, cv Conventions) string {
	if size == 8 {
		u := uint64(v)
		if cv.TagMaskBase != 0 && u == cv.TagMaskBase {
			return "tag mask base"
		}
		return quadConstants[u]
	}
	if size == 4 {
		return wordConstants[uint32(v)]
	}
	return ""
}

func validBase(base int) int {
	if base < 2 || base > 36 {
		return 16
	}
	return base
}
