package disasm

import (
	"fmt"
	"strings"
)

// FieldMap names fixed offsets from registers with a known provenance, e.g.
// thread-control-block fields reached through a ThreadPointer register.
type FieldMap map[Provenance]map[int64]string

// Lookup returns the field name at off from a register holding p.
func (fm FieldMap) Lookup(p Provenance, off int64) (string, bool) {
	if fm == nil {
		return "", false
	}
	name, ok := fm[p][off]
	return name, ok
}

// Table is a runtime metadata table referenced by absolute address, such as
// the per-type table or its reverse-lookup table.
type Table struct {
	Name      string
	Base      uint64
	Size      uint64
	EntrySize uint64 // 0 renders byte offsets
}

// Contains reports whether addr lies inside the table.
func (t Table) Contains(addr uint64) bool {
	return addr >= t.Base && addr-t.Base < t.Size
}

// Render returns the table-relative name of addr, "name+index".
func (t Table) Render(addr uint64) string {
	off := addr - t.Base
	if t.EntrySize > 0 {
		idx := off / t.EntrySize
		if rem := off % t.EntrySize; rem != 0 {
			return fmt.Sprintf("%s+%d.%d", t.Name, idx, rem)
		}
		return fmt.Sprintf("%s+%d", t.Name, idx)
	}
	if off == 0 {
		return t.Name
	}
	return fmt.Sprintf("%s+0x%x", t.Name, off)
}

func lookupTable(tables []Table, addr uint64) (string, bool) {
	for _, t := range tables {
		if t.Contains(addr) {
			return t.Render(addr), true
		}
	}
	return "", false
}

// MemoryReader is a bounds-checked view of target memory. ReadAt returns
// false instead of faulting when any byte of the range is unmapped.
type MemoryReader interface {
	ReadAt(addr uint64, n int) ([]byte, bool)
}

const (
	minCString = 2
	maxCString = 64
)

// ProbeCString reports whether addr points at a short NUL-terminated
// printable string and returns it.
func ProbeCString(m MemoryReader, addr uint64) (string, bool) {
	if m == nil || addr == 0 {
		return "", false
	}
	buf, ok := m.ReadAt(addr, maxCString)
	if !ok {
		// Near the end of a mapping: read up to the first NUL.
		buf = nil
		for i := 0; i < maxCString; i++ {
			b, ok := m.ReadAt(addr+uint64(i), 1)
			if !ok {
				break
			}
			buf = append(buf, b[0])
			if b[0] == 0 {
				break
			}
		}
	}
	for i, b := range buf {
		if b == 0 {
			if i < minCString {
				return "", false
			}
			return string(buf[:i]), true
		}
		if b < 0x20 || b > 0x7e {
			if b != '\t' && b != '\n' {
				return "", false
			}
		}
	}
	return "", false
}

// quoteC renders s as a C-style string literal.
func quoteC(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
