// Package elfx provides ELF loading helpers for x86-64 host binaries: the
// symbol table used to name native call targets and a virtual-address view
// of the loaded segments.
package elfx

import (
	"cmp"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
)

var (
	ErrNotELF       = errors.New("elfx: not an ELF file")
	ErrNotX86_64    = errors.New("elfx: not x86-64 (EM_X86_64)")
	ErrNotLoadable  = errors.New("elfx: not an executable or shared object")
	ErrNot64Bit     = errors.New("elfx: not 64-bit ELF")
	ErrNoSymbol     = errors.New("elfx: symbol not found")
	ErrNoSegment    = errors.New("elfx: no PT_LOAD segment covers address")
	ErrSymbolNoSize = errors.New("elfx: symbol has zero size")
)

// Symbol is one function symbol.
type Symbol struct {
	Name    string
	Addr    uint64
	Size    uint64
	Dynamic bool // from .dynsym
}

// End returns the first address past the symbol.
func (s Symbol) End() uint64 { return s.Addr + s.Size }

// File wraps a debug/elf.File with the lookups the disassembler needs.
type File struct {
	ELF  *elf.File
	raw  io.ReaderAt
	c    io.Closer
	size int64
	syms []Symbol // function symbols sorted by address
}

// Open opens an ELF file and validates it is a loadable x86-64 image.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfx: stat: %w", err)
	}
	ef, err := NewFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	ef.c = f
	return ef, nil
}

// NewFile reads an ELF image from r.
func NewFile(r io.ReaderAt, size int64) (*File, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	switch {
	case ef.Class != elf.ELFCLASS64:
		return nil, ErrNot64Bit
	case ef.Machine != elf.EM_X86_64:
		return nil, ErrNotX86_64
	case ef.Type != elf.ET_EXEC && ef.Type != elf.ET_DYN:
		return nil, ErrNotLoadable
	}
	f := &File{ELF: ef, raw: r, size: size}
	f.loadSymbols()
	return f, nil
}

// Close releases resources.
func (f *File) Close() error {
	err := f.ELF.Close()
	if f.c != nil {
		if cerr := f.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// FileSize returns the size of the underlying file.
func (f *File) FileSize() int64 { return f.size }

func (f *File) loadSymbols() {
	seen := map[Symbol]bool{}
	add := func(syms []elf.Symbol, dynamic bool) {
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Name == "" {
				continue
			}
			sym := Symbol{Name: s.Name, Addr: s.Value, Size: s.Size}
			if seen[sym] {
				continue
			}
			seen[sym] = true
			sym.Dynamic = dynamic
			f.syms = append(f.syms, sym)
		}
	}
	// Stripped images have no .symtab; .dynsym may be absent in static ones.
	if syms, err := f.ELF.Symbols(); err == nil {
		add(syms, false)
	}
	if syms, err := f.ELF.DynamicSymbols(); err == nil {
		add(syms, true)
	}
	slices.SortStableFunc(f.syms, func(a, b Symbol) int {
		if c := cmp.Compare(a.Addr, b.Addr); c != 0 {
			return c
		}
		// Sized aliases first so they win the lookup.
		return cmp.Compare(b.Size, a.Size)
	})
}

// FuncSymbols returns every function symbol, sorted by address.
func (f *File) FuncSymbols() []Symbol { return f.syms }

// Symbol looks up a function symbol by exact name.
func (f *File) Symbol(name string) (Symbol, error) {
	for _, s := range f.syms {
		if s.Name == name {
			return s, nil
		}
	}
	return Symbol{}, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

// LookupAddr returns the function symbol covering addr. A zero-size symbol
// only covers its own address.
func (f *File) LookupAddr(addr uint64) (name string, start, size uint64, ok bool) {
	i := sort.Search(len(f.syms), func(i int) bool { return f.syms[i].Addr > addr })
	for j := i - 1; j >= 0; j-- {
		s := f.syms[j]
		if s.Addr == addr || addr < s.End() {
			return s.Name, s.Addr, s.Size, true
		}
		if s.Size > 0 {
			// The nearest sized symbol below addr ends before it.
			break
		}
	}
	return "", 0, 0, false
}

// FuncBytes returns the code of a sized function symbol.
func (f *File) FuncBytes(name string) (Symbol, []byte, error) {
	s, err := f.Symbol(name)
	if err != nil {
		return s, nil, err
	}
	if s.Size == 0 {
		return s, nil, fmt.Errorf("%w: %s", ErrSymbolNoSize, name)
	}
	code, err := f.ReadBytesAtVA(s.Addr, int(s.Size))
	return s, code, err
}

// VAToFileOffset converts a virtual address to a file offset using the
// file-backed part of the PT_LOAD segments.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if va >= p.Vaddr && va < p.Vaddr+p.Filesz {
			offset := va - p.Vaddr + p.Off
			if offset >= uint64(f.size) {
				return 0, fmt.Errorf("elfx: VA 0x%x maps to offset 0x%x beyond file size 0x%x", va, offset, f.size)
			}
			return offset, nil
		}
	}
	return 0, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

// ReadBytesAtVA reads up to n bytes starting at va, stopping at the end of
// the file.
func (f *File) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
	off, err := f.VAToFileOffset(va)
	if err != nil {
		return nil, err
	}
	avail := f.size - int64(off)
	if int64(n) > avail {
		n = int(avail)
	}
	buf := make([]byte, n)
	if _, err := f.raw.ReadAt(buf, int64(off)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("elfx: read at 0x%x: %w", off, err)
	}
	return buf, nil
}

// ReadAt reads exactly n bytes at va. It reports false when any byte lies
// outside the file-backed image of a single segment.
func (f *File) ReadAt(va uint64, n int) ([]byte, bool) {
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD || va < p.Vaddr || va >= p.Vaddr+p.Filesz {
			continue
		}
		if va+uint64(n) > p.Vaddr+p.Filesz {
			return nil, false
		}
		buf, err := f.ReadBytesAtVA(va, n)
		return buf, err == nil && len(buf) == n
	}
	return nil, false
}

// SegmentInfo describes a PT_LOAD segment.
type SegmentInfo struct {
	Vaddr  uint64
	Memsz  uint64
	Filesz uint64
	Offset uint64
	Flags  elf.ProgFlag
}

// LoadSegments returns all PT_LOAD segments.
func (f *File) LoadSegments() []SegmentInfo {
	var segs []SegmentInfo
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, SegmentInfo{
			Vaddr:  p.Vaddr,
			Memsz:  p.Memsz,
			Filesz: p.Filesz,
			Offset: p.Off,
			Flags:  p.Flags,
		})
	}
	return segs
}

// ByteOrder returns the ELF byte order.
func (f *File) ByteOrder() binary.ByteOrder {
	return f.ELF.ByteOrder
}
