package disasm

import (
	"bytes"
	"testing"
)

func concat(parts ...[]byte) []byte { return bytes.Join(parts, nil) }

var (
	movRdiRsp   = []byte{0x48, 0x89, 0xe7}
	andRdiMask  = []byte{0x48, 0x81, 0xe7, 0x00, 0x00, 0xf0, 0xff}
	loadRdi16   = []byte{0x48, 0x8b, 0x47, 0x10}
	movRaxRdi   = []byte{0x48, 0x89, 0xf8}
	storeRdi24  = []byte{0x48, 0x89, 0x47, 0x18}
	shlRax16    = []byte{0x48, 0xc1, 0xe0, 0x10}
	shrRax16    = []byte{0x48, 0xc1, 0xe8, 0x10}
	xchgRdiRbx  = []byte{0x48, 0x87, 0xdf}
	callRel     = []byte{0xe8, 0x00, 0x00, 0x00, 0x00}
	movRbpRsp   = []byte{0x48, 0x89, 0xe5}
	subRsp16    = []byte{0x48, 0x83, 0xec, 0x10}
	loadRbpM8   = []byte{0x48, 0x8b, 0x45, 0xf8}
	movRspRbp   = []byte{0x48, 0x89, 0xec}
	popRbp      = []byte{0x5d}
	threadField = FieldMap{ThreadPointer: {16: "_vm_result"}}
)

func texts(insts []Inst) []string {
	out := make([]string, len(insts))
	for i, inst := range insts {
		out[i] = inst.Text
	}
	return out
}

func checkTexts(t *testing.T, got []Inst, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d instructions, want %d: %q", len(got), len(want), texts(got))
	}
	for i := range want {
		if got[i].Text != want[i] {
			t.Errorf("[%d] = %q, want %q", i, got[i].Text, want[i])
		}
	}
}

func TestThreadMaskIdiom(t *testing.T) {
	code := concat(movRdiRsp, andRdiMask, loadRdi16, movRaxRdi, storeRdi24)
	s := NewSession(Options{Fields: threadField})
	insts := s.DecodeAll(code, 0, 100)

	checkTexts(t, insts, []string{
		"mov rdi, rsp",
		"and rdi(sp), 0xfffffffffff00000 // thread = sp & ~(0x100000-1)",
		"mov rax, [rdi(thread)+_vm_result]",
		"mov rax, rdi(thread)",
		"mov [rdi(thread)+24], rax(thread)",
	})
	if s.Regs.Get(RDI) != ThreadPointer || s.Regs.Get(RAX) != ThreadPointer {
		t.Errorf("regs = %v", s.Regs)
	}
	if v := insts[2].Value; v != "thread._vm_result" {
		t.Errorf("Value = %q", v)
	}
}

func TestThreadMaskConventions(t *testing.T) {
	cv := DefaultConventions()
	cv.StackSize = 0x200000
	code := concat(movRdiRsp, []byte{0x48, 0x81, 0xe7, 0x00, 0x00, 0xe0, 0xff})
	insts := Disassemble(code, Options{Conventions: cv})
	if len(insts) != 2 {
		t.Fatalf("got %d instructions", len(insts))
	}
	if want := "and rdi(sp), 0xffffffffffe00000 // thread = sp & ~(0x200000-1)"; insts[1].Text != want {
		t.Errorf("text = %q, want %q", insts[1].Text, want)
	}

	// The default mask no longer matches.
	s := NewSession(Options{Conventions: cv})
	s.DecodeAll(concat(movRdiRsp, andRdiMask), 0, 10)
	if p := s.Regs.Get(RDI); p != Unknown {
		t.Errorf("rdi = %s, want unknown", p)
	}
}

func TestFramePointerRetag(t *testing.T) {
	s := NewSession(Options{})
	insts := s.DecodeAll(concat(movRbpRsp, subRsp16, loadRbpM8), 0, 10)
	checkTexts(t, insts, []string{
		"mov rbp, rsp",
		"sub rsp, 0x10",
		"mov rax, [rbp(fp)-8]",
	})
	if s.Regs.Get(RSP) != StackPointer {
		t.Errorf("rsp = %s", s.Regs.Get(RSP))
	}
	if m := insts[2].Mem; m == nil || m.Prov != FramePointer || m.Disp != -8 || m.Store {
		t.Errorf("Mem = %+v", m)
	}
}

func TestTagStripIdiom(t *testing.T) {
	s := NewSession(Options{})
	insts := s.DecodeAll(concat(shlRax16, shrRax16), 0, 10)
	checkTexts(t, insts, []string{
		"shl rax, 0x10",
		"shr rax, 0x10 // strip metadata",
	})
	if p := s.Regs.Get(RAX); p != Unknown {
		t.Errorf("rax = %s", p)
	}

	// A shift by a different amount is not the idiom.
	s = NewSession(Options{})
	insts = s.DecodeAll(concat([]byte{0x48, 0xc1, 0xe0, 0x08}, shrRax16), 0, 10)
	if insts[1].Comment != "" {
		t.Errorf("comment = %q", insts[1].Comment)
	}

	// Tags only live in 64-bit registers.
	s = NewSession(Options{})
	insts = s.DecodeAll([]byte{0xc1, 0xe0, 0x10, 0xc1, 0xe8, 0x10}, 0, 10)
	checkTexts(t, insts, []string{"shl eax, 0x10", "shr eax, 0x10"})
}

func TestExchangeSwapsProvenance(t *testing.T) {
	s := NewSession(Options{})
	s.DecodeAll(concat(movRdiRsp, andRdiMask, xchgRdiRbx), 0, 10)
	if s.Regs.Get(RBX) != ThreadPointer || s.Regs.Get(RDI) != Unknown {
		t.Errorf("rbx = %s, rdi = %s", s.Regs.Get(RBX), s.Regs.Get(RDI))
	}
}

func TestCallClobber(t *testing.T) {
	s := NewSession(Options{})
	s.Regs[RDI] = ThreadPointer
	s.Regs[R14] = ThreadPointer
	s.Regs[RBX] = FramePointer
	s.DecodeAll(callRel, 0, 1)

	tests := []struct {
		reg  int
		want Provenance
	}{
		{RDI, Unknown},
		{RBX, Unknown},
		{R14, ThreadPointer},
		{RSP, StackPointer},
	}
	for _, tt := range tests {
		if got := s.Regs.Get(tt.reg); got != tt.want {
			t.Errorf("%s = %s, want %s", RegName(tt.reg, 8, true), got, tt.want)
		}
	}
}

func TestParseIdioms(t *testing.T) {
	set, err := ParseIdioms([]string{"copy", "call-clobber"})
	if err != nil {
		t.Fatal(err)
	}
	s := NewSession(Options{Idioms: set})
	insts := s.DecodeAll(concat(movRdiRsp, andRdiMask), 0, 10)
	if insts[1].Comment != "" {
		t.Errorf("thread-mask fired while disabled: %q", insts[1].Text)
	}
	if p := s.Regs.Get(RDI); p != Unknown {
		t.Errorf("rdi = %s, want unknown", p)
	}

	if _, err := ParseIdioms([]string{"copy", "bogus"}); err == nil {
		t.Error("expected error for unknown idiom")
	}
	if got := len(IdiomNames()); got != len(DefaultIdioms()) {
		t.Errorf("IdiomNames has %d entries, DefaultIdioms %d", got, len(DefaultIdioms()))
	}
}

func TestRenderSuffix(t *testing.T) {
	rf := NewRegisterFile()
	rf[RDI] = ThreadPointer
	tests := []struct {
		n, size int
		want    string
	}{
		{RDI, 8, "rdi(thread)"},
		{RDI, 4, "edi"},
		{RSP, 8, "rsp"},
		{RAX, 8, "rax"},
	}
	for _, tt := range tests {
		if got := rf.render(tt.n, tt.size, true); got != tt.want {
			t.Errorf("render(%d, %d) = %q, want %q", tt.n, tt.size, got, tt.want)
		}
	}

	rf[RSP] = ThreadPointer
	if got := rf.render(RSP, 8, true); got != "rsp(thread)" {
		t.Errorf("render(rsp) after retag = %q", got)
	}
	if got := rf.render(RSP, 4, true); got != "esp" {
		t.Errorf("render(esp) = %q", got)
	}
}

func TestStackAdjustRetag(t *testing.T) {
	tests := []struct {
		name   string
		adjust []byte
	}{
		{"lea", []byte{0x48, 0x8d, 0x64, 0x24, 0xe0}}, // lea rsp, [rsp-32]
		{"and align", []byte{0x48, 0x83, 0xe4, 0xf0}}, // and rsp, -16
		{"sub", subRsp16},
		{"push", []byte{0x53}}, // push rbx
		{"pop", []byte{0x5b}},  // pop rbx
		{"mov", movRspRbp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(Options{})
			s.DecodeAll(concat(movRbpRsp, tt.adjust), 0, 10)
			if p := s.Regs.Get(RBP); p != FramePointer {
				t.Errorf("rbp = %s, want fp", p)
			}
			if p := s.Regs.Get(RSP); p != StackPointer {
				t.Errorf("rsp = %s, want sp", p)
			}
		})
	}
}

func TestThreadMaskAfterEpilogue(t *testing.T) {
	code := concat(movRbpRsp, subRsp16, movRspRbp, popRbp, movRdiRsp, andRdiMask)
	s := NewSession(Options{})
	insts := s.DecodeAll(code, 0, 10)
	if len(insts) != 6 {
		t.Fatalf("got %d instructions: %q", len(insts), texts(insts))
	}
	if want := "and rdi(sp), 0xfffffffffff00000 // thread = sp & ~(0x100000-1)"; insts[5].Text != want {
		t.Errorf("text = %q, want %q", insts[5].Text, want)
	}
	if s.Regs.Get(RDI) != ThreadPointer || s.Regs.Get(RSP) != StackPointer || s.Regs.Get(RBP) != Unknown {
		t.Errorf("regs = %v", s.Regs)
	}
}

func TestThreadMaskOnRsp(t *testing.T) {
	code := concat(
		[]byte{0x48, 0x81, 0xe4, 0x00, 0x00, 0xf0, 0xff}, // and rsp, mask
		[]byte{0x48, 0x8b, 0x44, 0x24, 0x10},             // mov rax, [rsp+16]
		[]byte{0x48, 0x89, 0xe3},                         // mov rbx, rsp
	)
	s := NewSession(Options{Fields: threadField})
	insts := s.DecodeAll(code, 0, 10)
	checkTexts(t, insts, []string{
		"and rsp, 0xfffffffffff00000 // thread = sp & ~(0x100000-1)",
		"mov rax, [rsp(thread)+_vm_result]",
		"mov rbx, rsp(thread)",
	})
	if s.Regs.Get(RBX) != ThreadPointer {
		t.Errorf("rbx = %s", s.Regs.Get(RBX))
	}
}
