package disasm

import (
	"testing"

	"jitdis/internal/symbols"
)

func TestBuildCFG(t *testing.T) {
	code := []byte{
		0x48, 0x85, 0xc0, // 0x1000 test rax, rax
		0x74, 0x03, // 0x1003 je 0x1008
		0x31, 0xc0, // 0x1005 xor eax, eax
		0xc3,                         // 0x1007 ret
		0xb8, 0x01, 0x00, 0x00, 0x00, // 0x1008 mov eax, 1
		0xc3, // 0x100d ret
	}
	insts := Disassemble(code, Options{BaseAddr: 0x1000})
	if len(insts) != 6 {
		t.Fatalf("got %d instructions", len(insts))
	}

	cfg := BuildCFG("f", insts)
	if len(cfg.Blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(cfg.Blocks))
	}
	entry := cfg.Blocks[0]
	if !entry.IsEntry || entry.Start != 0 || entry.End != 2 {
		t.Errorf("entry = %+v", entry)
	}
	if len(entry.Succs) != 2 {
		t.Fatalf("entry succs = %+v", entry.Succs)
	}
	if entry.Succs[0] != (Succ{BlockID: 2, Cond: "T"}) || entry.Succs[1] != (Succ{BlockID: 1, Cond: "F"}) {
		t.Errorf("entry succs = %+v", entry.Succs)
	}
	for _, b := range cfg.Blocks[1:] {
		if !b.IsTerm || len(b.Succs) != 0 {
			t.Errorf("block %d = %+v, want terminal", b.ID, b)
		}
	}
}

func TestBuildCFGFallthrough(t *testing.T) {
	code := []byte{
		0xeb, 0x01, // 0x0 jmp 0x3
		0x90, // 0x2 nop
		0x90, // 0x3 nop
		0xc3, // 0x4 ret
	}
	cfg := BuildCFG("g", Disassemble(code, Options{}))
	if len(cfg.Blocks) != 3 {
		t.Fatalf("got %d blocks", len(cfg.Blocks))
	}
	if s := cfg.Blocks[0].Succs; len(s) != 1 || s[0].BlockID != 2 || s[0].Cond != "" {
		t.Errorf("jmp succs = %+v", s)
	}
	// The nop block falls into the target block.
	if s := cfg.Blocks[1].Succs; len(s) != 1 || s[0].BlockID != 2 {
		t.Errorf("nop succs = %+v", s)
	}
}

func TestBuildCFGEmpty(t *testing.T) {
	cfg := BuildCFG("empty", nil)
	if len(cfg.Blocks) != 0 {
		t.Errorf("got %d blocks", len(cfg.Blocks))
	}
}

func TestExtractCallEdges(t *testing.T) {
	res := fakeResolver{{Name: "helper", Low: 0x2000, High: 0x2040}}
	code := []byte{
		0x49, 0xba, 0x00, 0x20, 0, 0, 0, 0, 0, 0, // 0x1000 mov r10, 0x2000
		0x41, 0xff, 0xd2, // 0x100a call r10
		0xe8, 0xee, 0x0f, 0x00, 0x00, // 0x100d call 0x2000
		0x41, 0xff, 0xd2, // 0x1012 call r10 again, nothing known
	}
	insts := Disassemble(code, Options{BaseAddr: 0x1000, Resolver: res})
	if len(insts) != 4 {
		t.Fatalf("got %d instructions: %q", len(insts), texts(insts))
	}
	if insts[0].Text != "mov r10, 0x2000 // helper" {
		t.Errorf("text = %q", insts[0].Text)
	}

	edges := ExtractCallEdges(insts, 8)
	want := []CallEdge{
		{FromPC: 0x100a, Kind: "icall", Reg: "r10", Via: "helper"},
		{FromPC: 0x100d, Kind: "call", TargetPC: 0x2000, TargetName: "helper"},
		{FromPC: 0x1012, Kind: "icall", Reg: "r10"},
	}
	if len(edges) != len(want) {
		t.Fatalf("got %d edges: %+v", len(edges), edges)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge[%d] = %+v, want %+v", i, edges[i], want[i])
		}
	}
}

func TestRegTrackerWindow(t *testing.T) {
	rt := NewRegTracker(2)
	rt.Define(R11, "x")
	rt.Tick()
	rt.Tick()
	if rt.Lookup(R11) != "x" {
		t.Error("definition expired early")
	}
	rt.Tick()
	if rt.Lookup(R11) != "" {
		t.Error("definition outlived window")
	}
	rt.Define(-1, "ignored")
	rt.Kill(NumRegs)
}

func TestThreadAudit(t *testing.T) {
	code := concat(movRdiRsp, andRdiMask, loadRdi16, storeRdi24)
	insts := Disassemble(code, Options{Fields: threadField})

	acc := ExtractThreadAccesses(insts)
	if len(acc) != 2 {
		t.Fatalf("got %d accesses", len(acc))
	}
	if a := acc[0]; a.Offset != 16 || a.Field != "_vm_result" || !a.Resolved || a.IsStore || a.Reg != "rdi" {
		t.Errorf("load = %+v", a)
	}
	if a := acc[1]; a.Offset != 24 || a.Resolved || !a.IsStore {
		t.Errorf("store = %+v", a)
	}

	recs := BuildAuditRecords(acc, insts, "f")
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].Offset != "0x10" || recs[0].FuncName != "f" {
		t.Errorf("record = %+v", recs[0])
	}
	// Two before, the access itself, one after.
	if len(recs[0].Context) != 4 {
		t.Errorf("context = %q", recs[0].Context)
	}
}

var _ Resolver = (*symbols.Resolver)(nil)
