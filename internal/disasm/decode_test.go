package disasm

import (
	"strings"
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"jitdis/internal/region"
	"jitdis/internal/symbols"
)

type fakeResolver []symbols.Match

func (f fakeResolver) Resolve(addr uint64) (symbols.Match, bool) {
	for _, m := range f {
		if m.Contains(addr) {
			return m, true
		}
	}
	return symbols.Match{}, false
}

type fakeMemory struct {
	base uint64
	data []byte
}

func (m fakeMemory) ReadAt(addr uint64, n int) ([]byte, bool) {
	if addr < m.base || addr+uint64(n) > m.base+uint64(len(m.data)) {
		return nil, false
	}
	off := addr - m.base
	return m.data[off : off+uint64(n)], true
}

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"ret", []byte{0xc3}, "ret"},
		{"nop", []byte{0x90}, "nop"},
		{"int3", []byte{0xcc}, "int3"},
		{"hlt", []byte{0xf4}, "hlt"},
		{"leave", []byte{0xc9}, "leave"},
		{"push rbp", []byte{0x55}, "push rbp"},
		{"push r15", []byte{0x41, 0x57}, "push r15"},
		{"mov reg reg", []byte{0x48, 0x89, 0xe5}, "mov rbp, rsp"},
		{"sub imm8", []byte{0x48, 0x83, 0xec, 0x10}, "sub rsp, 0x10"},
		{"sib rsp base", []byte{0x4c, 0x8b, 0x3c, 0x24}, "mov r15, [rsp]"},
		{"fs absolute", []byte{0x64, 0x48, 0x8b, 0x04, 0x25, 0x28, 0x00, 0x00, 0x00}, "mov rax, fs:[0x28]"},
		{"negative absolute", []byte{0x48, 0x8b, 0x04, 0x25, 0xf0, 0xff, 0xff, 0xff}, "mov rax, [0xfffffffffffffff0]"},
		{"xor zero", []byte{0x31, 0xc0}, "xor eax, eax"},
		{"mov imm32", []byte{0xb8, 0x01, 0x00, 0x00, 0x00}, "mov eax, 0x1"},
		{"mov imm to mem", []byte{0xc6, 0x45, 0xff, 0x01}, "mov byte ptr [rbp-1], 0x1"},
		{"large disp", []byte{0x48, 0x8b, 0x87, 0xa0, 0x01, 0x00, 0x00}, "mov rax, [rdi+0x1a0]"},
		{"scaled index", []byte{0x48, 0x8b, 0x04, 0xc8}, "mov rax, [rax+rcx*8]"},
		{"rep stosq", []byte{0xf3, 0x48, 0xab}, "rep stosq"},
		{"lock cmpxchg", []byte{0xf0, 0x48, 0x0f, 0xb1, 0x0e}, "lock cmpxchg [rsi], rcx"},
		{"float one", []byte{0x48, 0xb8, 0, 0, 0, 0, 0, 0, 0xf0, 0x3f}, "mov rax, 0x3ff0000000000000 // 1.0"},
		{"pxor", []byte{0x66, 0x0f, 0xef, 0xc0}, "pxor xmm0, xmm0"},
		{"movsd load", []byte{0xf2, 0x0f, 0x10, 0x45, 0xf0}, "movsd xmm0, [rbp-16]"},
		{"popcnt", []byte{0xf3, 0x48, 0x0f, 0xb8, 0xc1}, "popcnt rax, rcx"},
		{"mfence", []byte{0x0f, 0xae, 0xf0}, "mfence"},
		{"ud2", []byte{0x0f, 0x0b}, "ud2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := DecodeOne(tt.code, 0x1000)
			if inst.Status != StatusOK {
				t.Fatalf("status = %s, text %q", inst.Status, inst.Text)
			}
			if inst.Size != len(tt.code) {
				t.Errorf("size = %d, want %d", inst.Size, len(tt.code))
			}
			if inst.Text != tt.want {
				t.Errorf("text = %q, want %q", inst.Text, tt.want)
			}
		})
	}
}

// The reference decoder agrees on the length of every encoding we handle.
func TestDecodeLengthMatchesReference(t *testing.T) {
	encodings := [][]byte{
		{0x55},
		{0x48, 0x89, 0xe5},
		{0x48, 0x83, 0xec, 0x20},
		{0x48, 0x8b, 0x45, 0xf8},
		{0x4c, 0x8b, 0x3c, 0x24},
		{0x66, 0x0f, 0x1f, 0x44, 0x00, 0x00},
		{0x0f, 0x1f, 0x80, 0x00, 0x00, 0x00, 0x00},
		{0xe8, 0x10, 0x00, 0x00, 0x00},
		{0x0f, 0x84, 0x10, 0x00, 0x00, 0x00},
		{0xf2, 0x0f, 0x10, 0x45, 0xf0},
		{0x66, 0x0f, 0xef, 0xc0},
		{0xf3, 0x48, 0x0f, 0xb8, 0xc1},
		{0x48, 0xb8, 1, 2, 3, 4, 5, 6, 7, 8},
		{0xc6, 0x45, 0xff, 0x01},
		{0x41, 0xc7, 0x44, 0x24, 0x08, 0xff, 0xff, 0xff, 0xff},
		{0xf0, 0x0f, 0xb1, 0x0e},
		{0x48, 0xc1, 0xe0, 0x10},
		{0x64, 0x48, 0x8b, 0x04, 0x25, 0x28, 0x00, 0x00, 0x00},
		{0x0f, 0xae, 0xf0},
		{0x48, 0x63, 0xc7},
		{0x0f, 0xb6, 0xc0},
		{0xf3, 0x48, 0xab},
		{0x66, 0x0f, 0x3a, 0x0b, 0xc1, 0x04},
		{0x48, 0x8d, 0x05, 0x00, 0x01, 0x00, 0x00},
		{0x41, 0xff, 0xd2},
		{0xc2, 0x08, 0x00},
	}
	for _, code := range encodings {
		xi, err := x86asm.Decode(code, 64)
		if err != nil {
			t.Fatalf("reference decoder rejected % x: %v", code, err)
		}
		inst := DecodeOne(code, 0x1000)
		if inst.Status != StatusOK {
			t.Errorf("% x: status %s (%s)", code, inst.Status, inst.Text)
		}
		if inst.Size != xi.Len {
			t.Errorf("% x: size %d, reference %d", code, inst.Size, xi.Len)
		}
	}
}

// Every opcode byte, alone or followed by padding, consumes at least one
// byte and never more than the architectural limit.
func TestDecodeProgress(t *testing.T) {
	for b := 0; b < 256; b++ {
		for _, code := range [][]byte{{byte(b)}, append([]byte{byte(b)}, make([]byte, 15)...)} {
			inst := DecodeOne(code, 0x1000)
			if inst.Size < 1 || inst.Size > maxInstLen {
				t.Errorf("% x: size %d (%s)", code[:1], inst.Size, inst.Text)
			}
			if inst.Text == "" {
				t.Errorf("% x: empty text", code[:1])
			}
		}
	}
}

func TestDecodeDeterministic(t *testing.T) {
	code := []byte{
		0x55,
		0x48, 0x89, 0xe5,
		0x48, 0x83, 0xec, 0x10,
		0x48, 0x8b, 0x45, 0xf8,
		0xc9,
		0xc3,
	}
	a := Format(Disassemble(code, Options{BaseAddr: 0x4000}))
	b := Format(Disassemble(code, Options{BaseAddr: 0x4000}))
	if a != b {
		t.Errorf("output differs between runs:\n%s\n%s", a, b)
	}
	if !strings.Contains(a, "0x00004000") {
		t.Errorf("missing first address:\n%s", a)
	}
}

func TestDisassembleMaxSteps(t *testing.T) {
	code := make([]byte, 100)
	for i := range code {
		code[i] = 0x90
	}
	insts := Disassemble(code, Options{MaxSteps: 10})
	if len(insts) != 10 {
		t.Fatalf("got %d instructions, want 10", len(insts))
	}
}

func TestDisassembleEmpty(t *testing.T) {
	if insts := Disassemble(nil, Options{}); len(insts) != 0 {
		t.Fatalf("got %d instructions for nil data", len(insts))
	}
}

func TestDecodeUnknown(t *testing.T) {
	// VEX-encoded vxorpd: no handler.
	code := []byte{0xc5, 0xf9, 0x57, 0xc0, 0x90}
	want := 1
	if xi, err := x86asm.Decode(code, 64); err == nil && xi.Len > 0 {
		want = xi.Len
	}

	s := NewSession(Options{BaseAddr: 0x1000})
	insts := s.DecodeAll(code, 0x1000, 100)
	if len(insts) == 0 {
		t.Fatal("no instructions")
	}
	inst := insts[0]
	if inst.Status != StatusUnknown {
		t.Fatalf("status = %s", inst.Status)
	}
	if inst.Size != want {
		t.Errorf("size = %d, want %d", inst.Size, want)
	}
	if !strings.HasPrefix(inst.Text, ".byte 0xc5") || !strings.HasSuffix(inst.Text, "// unknown instruction") {
		t.Errorf("text = %q", inst.Text)
	}
	if s.Diags.Len() == 0 {
		t.Error("no diagnostic recorded")
	}
	// Decoding resumes after the skipped bytes.
	if want < len(code) && insts[1].Addr != 0x1000+uint64(want) {
		t.Errorf("next addr = 0x%x", insts[1].Addr)
	}
}

func TestDecodeTruncated(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"missing modrm", []byte{0x48, 0x8b}, ".byte 0x48, 0x8b // truncated instruction"},
		{"missing imm", []byte{0xb8, 0x01, 0x02}, ".byte 0xb8, 0x01, 0x02 // truncated instruction"},
		{"prefix only", []byte{0x66}, ".byte 0x66 // truncated instruction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := DecodeOne(tt.code, 0)
			if inst.Status != StatusTruncated {
				t.Fatalf("status = %s", inst.Status)
			}
			if inst.Size != len(tt.code) {
				t.Errorf("size = %d, want %d", inst.Size, len(tt.code))
			}
			if inst.Text != tt.want {
				t.Errorf("text = %q, want %q", inst.Text, tt.want)
			}
		})
	}
}

func TestDecodeDisallowed(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"lock on register", []byte{0xf0, 0x48, 0x01, 0xc8}, "lock add rax, rcx // TODO: lock prefix on a non-lockable form"},
		{"lea register", []byte{0x48, 0x8d, 0xc0}, "lea rax, rax // TODO: lea with a register source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(Options{})
			inst := s.Decode(NewCursor(tt.code, 0))
			if inst.Status != StatusFailed {
				t.Fatalf("status = %s", inst.Status)
			}
			if !s.Failed {
				t.Error("session failure flag not set")
			}
			if inst.Size != len(tt.code) {
				t.Errorf("size = %d", inst.Size)
			}
			if inst.Text != tt.want {
				t.Errorf("text = %q, want %q", inst.Text, tt.want)
			}
		})
	}
}

func TestRipRelative(t *testing.T) {
	// mov rax, [rip+16] at 0x1000: target is 0x1007+0x10.
	load := []byte{0x48, 0x8b, 0x05, 0x10, 0x00, 0x00, 0x00}

	t.Run("unresolved", func(t *testing.T) {
		inst := Disassemble(load, Options{BaseAddr: 0x1000})[0]
		if inst.Text != "mov rax, [rip+16] // [0x1017]" {
			t.Errorf("text = %q", inst.Text)
		}
		if !inst.HasTarget || inst.Target != 0x1017 {
			t.Errorf("target = 0x%x", inst.Target)
		}
	})

	t.Run("table", func(t *testing.T) {
		opts := Options{
			BaseAddr: 0x1000,
			Tables:   []Table{{Name: "klass_table", Base: 0x1007, Size: 0x100, EntrySize: 8}},
		}
		inst := Disassemble(load, opts)[0]
		if inst.Text != "mov rax, [klass_table+2]" {
			t.Errorf("text = %q", inst.Text)
		}
	})

	t.Run("resolved", func(t *testing.T) {
		opts := Options{
			BaseAddr: 0x1000,
			Resolver: fakeResolver{{Name: "StubRoutines::_call_stub", Low: 0x1010, High: 0x1020}},
		}
		inst := Disassemble(load, opts)[0]
		if inst.Text != "mov rax, [rip+16] // StubRoutines::_call_stub+0x7" {
			t.Errorf("text = %q", inst.Text)
		}
	})

	t.Run("c string", func(t *testing.T) {
		opts := Options{
			BaseAddr: 0x1000,
			Memory:   fakeMemory{base: 0x1017, data: []byte("oops\x00")},
		}
		inst := Disassemble(load, opts)[0]
		if inst.Text != `mov rax, [rip+16] // "oops"` {
			t.Errorf("text = %q", inst.Text)
		}
		if inst.StrRef != "oops" {
			t.Errorf("StrRef = %q", inst.StrRef)
		}
	})

	t.Run("trailing immediate", func(t *testing.T) {
		// mov dword ptr [rip+16], 1: the immediate follows the displacement,
		// so the target is relative to the end of all ten bytes.
		code := []byte{0xc7, 0x05, 0x10, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}
		inst := Disassemble(code, Options{BaseAddr: 0x1000})[0]
		if inst.Target != 0x101a {
			t.Errorf("target = 0x%x, want 0x101a", inst.Target)
		}
		if inst.Text != "mov dword ptr [rip+16], 0x1 // [0x101a]" {
			t.Errorf("text = %q", inst.Text)
		}
	})
}

func TestBranchTargets(t *testing.T) {
	self := &region.Static{RegionName: "m", RegionKind: region.KindCompiled, Low: 0x1000, High: 0x1100}
	stub := fakeResolver{{Name: "StubRoutines::foo", Low: 0x2000, High: 0x2040}}

	tests := []struct {
		name string
		code []byte
		opts Options
		want string
	}{
		{"unresolved call", []byte{0xe8, 0xfb, 0x0f, 0x00, 0x00}, Options{}, "call 0x2000"},
		{"resolved call", []byte{0xe8, 0xfb, 0x0f, 0x00, 0x00}, Options{Resolver: stub}, "call 0x2000 <StubRoutines::foo>"},
		{"self offset", []byte{0xe8, 0x0b, 0x00, 0x00, 0x00}, Options{Region: self, Resolver: stub}, "call 0x1010 <+0x10>"},
		{"self start", []byte{0xeb, 0xfe}, Options{Region: self}, "jmp 0x1000"},
		{"named self", []byte{0x74, 0x02}, Options{SelfName: "f", SelfEnd: 0x1010}, "je 0x1004 <+0x4>"},
		{"jcc32", []byte{0x0f, 0x85, 0xfa, 0x0f, 0x00, 0x00}, Options{Resolver: stub}, "jne 0x2000 <StubRoutines::foo>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.BaseAddr = 0x1000
			inst := Disassemble(tt.code, tt.opts)[0]
			if inst.Text != tt.want {
				t.Errorf("text = %q, want %q", inst.Text, tt.want)
			}
			if !inst.HasTarget {
				t.Error("HasTarget not set")
			}
		})
	}
}

func TestFormatImm(t *testing.T) {
	tests := []struct {
		v       int64
		size    int
		logical bool
		base    int
		want    string
	}{
		{-1, 8, false, 16, "-0x1"},
		{-1, 4, true, 16, "0xffffffff"},
		{0x10, 1, false, 16, "0x10"},
		{10, 4, false, 10, "10"},
		{-10, 4, true, 10, "4294967286"},
		{5, 4, false, 2, "101_2"},
		{-5, 4, false, 8, "-5_8"},
	}
	for _, tt := range tests {
		if got := formatImm(tt.v, tt.size, tt.logical, tt.base); got != tt.want {
			t.Errorf("formatImm(%d, %d, %v, %d) = %q, want %q", tt.v, tt.size, tt.logical, tt.base, got, tt.want)
		}
	}
}

func TestFormatDisp(t *testing.T) {
	tests := []struct {
		d    int64
		want string
	}{
		{8, "+8"},
		{-8, "-8"},
		{255, "+255"},
		{0x1a0, "+0x1a0"},
		{-0x110, "-0x110"},
	}
	for _, tt := range tests {
		if got := formatDisp(tt.d); got != tt.want {
			t.Errorf("formatDisp(%d) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestImmediateBase(t *testing.T) {
	inst := Disassemble([]byte{0x48, 0x83, 0xec, 0x10}, Options{ImmBase: 10})[0]
	if inst.Text != "sub rsp, 16" {
		t.Errorf("text = %q", inst.Text)
	}
}
