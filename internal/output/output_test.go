package output

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jitdis/internal/disasm"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		name string
		pc   uint64
		want string
	}{
		{"memcpy", 0x1000, "memcpy_1000"},
		{"ns::Foo<int>::bar", 0x2a, "ns__Foo_int___bar_2a"},
		{"", 0x10, "sub_10"},
		{strings.Repeat("a", 300), 1, strings.Repeat("a", 200) + "_1"},
	}
	for _, tt := range tests {
		if got := FileName(tt.name, tt.pc); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestWriteASMAndBin(t *testing.T) {
	dir := t.TempDir()
	code := []byte{0x55, 0xc3}
	insts := disasm.Disassemble(code, disasm.Options{BaseAddr: 0x1000})

	if err := WriteASM(dir, "f_1000", insts); err != nil {
		t.Fatal(err)
	}
	if err := WriteBin(dir, "f_1000", code); err != nil {
		t.Fatal(err)
	}
	txt, err := os.ReadFile(filepath.Join(dir, "asm", "f_1000.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(txt) != disasm.Format(insts) || !strings.Contains(string(txt), "push rbp") {
		t.Errorf("asm = %q", txt)
	}
	bin, err := os.ReadFile(filepath.Join(dir, "asm", "f_1000.bin"))
	if err != nil || string(bin) != string(code) {
		t.Errorf("bin = % x, %v", bin, err)
	}
}

func TestJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call_edges.jsonl")
	j, err := CreateJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	recs := []disasm.CallEdgeRecord{
		{FromFunc: "f", FromPC: "0x10", Kind: "call", Target: "Foo<int>::bar"},
		{FromFunc: "f", FromPC: "0x20", Kind: "icall", Reg: "rax"},
	}
	for _, r := range recs {
		if err := j.Encode(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if j.N != 2 {
		t.Errorf("N = %d", j.N)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	var got []disasm.CallEdgeRecord
	for sc.Scan() {
		if strings.Contains(sc.Text(), `\u003c`) {
			t.Errorf("HTML escaping in %s", sc.Text())
		}
		var r disasm.CallEdgeRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatal(err)
		}
		got = append(got, r)
	}
	if len(got) != 2 || got[0] != recs[0] || got[1] != recs[1] {
		t.Errorf("read back %+v", got)
	}
}

func TestWriteSymbolsJSON(t *testing.T) {
	dir := t.TempDir()
	syms := []SymbolEntry{{Address: 0x1000, Name: "main", Size: 16}}
	if err := WriteSymbolsJSON(dir, syms); err != nil {
		t.Fatal(err)
	}
	var got []SymbolEntry
	data, err := os.ReadFile(filepath.Join(dir, "symbols.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &got); err != nil || len(got) != 1 || got[0] != syms[0] {
		t.Errorf("symbols = %+v, %v", got, err)
	}
}
