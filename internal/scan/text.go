package scan

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"jitdis/internal/disasm"
)

// maxLineBytes is the number of encoding bytes shown per text line.
const maxLineBytes = 10

// hexWidth is the padded width of the hex column.
const hexWidth = maxLineBytes*3 - 1

// Text renders [begin, begin+len(code)) one instruction per line:
//
//	0x000000001000: 48 89 e5                      mov rbp, rsp
//
// Region debug and coverage markers are printed on their own lines before
// the instruction they belong to; remarks trail the instruction.
func Text(w io.Writer, code []byte, begin uint64, opts Options) (*Result, error) {
	bw := bufio.NewWriter(w)
	res, err := newDriver(code, begin, opts).run(func(st step) error {
		return writeTextStep(bw, st)
	})
	if ferr := bw.Flush(); err == nil {
		err = ferr
	}
	return res, err
}

func writeTextStep(w io.Writer, st step) error {
	for _, a := range st.before {
		if _, err := fmt.Fprintf(w, "%16s;; %s\n", "", a); err != nil {
			return err
		}
	}
	if st.kind == stepRaw {
		_, err := fmt.Fprintf(w, "0x%012x: %-*s %-*s // raw data\n",
			st.addr, rawChunk*3-1, disasm.HexPairs(st.raw, rawChunk), rawChunk, printable(st.raw))
		return err
	}
	line := fmt.Sprintf("0x%012x: %-*s %s", st.inst.Addr, hexWidth, disasm.HexPairs(st.inst.Raw, maxLineBytes), st.inst.Text)
	if st.remark != "" {
		line += " ;; " + st.remark
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// printable renders bytes as ASCII, '.' for anything unprintable.
func printable(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}
