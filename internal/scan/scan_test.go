package scan

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"jitdis/internal/diag"
	"jitdis/internal/disasm"
	"jitdis/internal/profile"
	"jitdis/internal/region"
	"jitdis/internal/symbols"
)

func lines(s string) []string {
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func nops(n int) []byte { return bytes.Repeat([]byte{0x90}, n) }

func TestTextEmptyRange(t *testing.T) {
	var buf bytes.Buffer
	res, err := Text(&buf, nil, 0x1000, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Insts != 0 || buf.Len() != 0 || res.End != 0x1000 {
		t.Errorf("res = %+v, output %q", res, buf.String())
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	res, err := Text(&buf, []byte{0x55, 0x48, 0x89, 0xe5, 0xc3}, 0x1000, Options{})
	if err != nil {
		t.Fatal(err)
	}
	got := lines(buf.String())
	want := []string{
		"0x000000001000: 55" + strings.Repeat(" ", 27) + " push rbp",
		"0x000000001001: 48 89 e5" + strings.Repeat(" ", 21) + " mov rbp, rsp",
		"0x000000001004: c3" + strings.Repeat(" ", 27) + " ret",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(got), buf.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	if res.Insts != 3 || res.End != 0x1005 {
		t.Errorf("res = %+v", res)
	}
}

func TestTruncatedTail(t *testing.T) {
	var buf bytes.Buffer
	code := []byte{0x90, 0x48, 0x8b, 0x45}
	res, err := Text(&buf, code, 0, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Insts != 2 || res.End != 4 {
		t.Errorf("res = %+v", res)
	}
	if !strings.HasSuffix(buf.String(), "// truncated instruction\n") {
		t.Errorf("output:\n%s", buf.String())
	}
	if res.Diags.Count(diag.KindTruncated) != 1 {
		t.Errorf("diags = %v", res.Diags.Items())
	}
}

func TestTrailerDump(t *testing.T) {
	code := append([]byte{0x55, 0x48, 0x89, 0xe5}, []byte("ABCDEFGH\x00\x01\x02\x03")...)
	reg := &region.Static{RegionName: "m", RegionKind: region.KindCompiled, Low: 0x1000, High: 0x1010, TrailerOff: 4}

	var buf bytes.Buffer
	res, err := Text(&buf, code, 0x1000, Options{Disasm: disasm.Options{Region: reg}})
	if err != nil {
		t.Fatal(err)
	}
	got := lines(buf.String())
	if len(got) != 4 {
		t.Fatalf("got %d lines:\n%s", len(got), buf.String())
	}
	if want := "0x000000001004: 41 42 43 44 45 46 47 48 ABCDEFGH // raw data"; got[2] != want {
		t.Errorf("raw line = %q, want %q", got[2], want)
	}
	if want := "0x00000000100c: 00 01 02 03" + strings.Repeat(" ", 12) + " ....     // raw data"; got[3] != want {
		t.Errorf("padded raw line = %q, want %q", got[3], want)
	}
	if res.Insts != 2 || res.RawBytes != 12 || res.Diags.Count(diag.KindRawData) != 1 {
		t.Errorf("res = %+v", res)
	}
}

func TestRegionAnnotations(t *testing.T) {
	reg := &region.Static{
		RegionName: "m",
		RegionKind: region.KindCompiled,
		Low:        0x1000,
		High:       0x1002,
		Debug:      map[uint64][]string{0: {"safepoint"}},
		Cover:      map[uint64][]string{0: {"covered"}},
		Notes:      map[uint64]string{1: "implicit null check"},
	}
	var buf bytes.Buffer
	if _, err := Text(&buf, []byte{0x90, 0xc3}, 0x1000, Options{Disasm: disasm.Options{Region: reg}}); err != nil {
		t.Fatal(err)
	}
	got := lines(buf.String())
	if len(got) != 4 {
		t.Fatalf("got %d lines:\n%s", len(got), buf.String())
	}
	if got[0] != strings.Repeat(" ", 16)+";; safepoint" || got[1] != strings.Repeat(" ", 16)+";; covered" {
		t.Errorf("markers = %q", got[:2])
	}
	if !strings.HasSuffix(got[3], "ret ;; implicit null check") {
		t.Errorf("remark line = %q", got[3])
	}
}

func TestFailureCap(t *testing.T) {
	code := append([]byte{0xf0, 0x48, 0x01, 0xc8}, nops(300)...)
	var buf bytes.Buffer
	res, err := Text(&buf, code, 0, Options{FailureTail: 16})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Capped || res.Insts != 17 || res.End != 20 {
		t.Errorf("res = %+v", res)
	}
	if res.Diags.Count(diag.KindDisallowed) != 1 || res.Diags.Count(diag.KindCapped) != 1 {
		t.Errorf("diags = %v", res.Diags.Items())
	}
}

func TestMaxSteps(t *testing.T) {
	var buf bytes.Buffer
	res, err := Text(&buf, nops(10), 0, Options{MaxSteps: 3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Insts != 3 || len(lines(buf.String())) != 3 {
		t.Errorf("res = %+v", res)
	}
}

type failWriter struct{}

var errWrite = errors.New("write failed")

func (failWriter) Write([]byte) (int, error) { return 0, errWrite }

func TestTextWriteError(t *testing.T) {
	if _, err := Text(failWriter{}, nops(4), 0, Options{}); !errors.Is(err, errWrite) {
		t.Errorf("err = %v, want write error", err)
	}
}

func TestXML(t *testing.T) {
	stubs := symbols.NewStubRegistry()
	stubs.Register("StubRoutines", "helper", 0x2000, 0x2040)
	res := &symbols.Resolver{Stubs: stubs}

	code := []byte{
		0xe8, 0xfb, 0x0f, 0x00, 0x00, // call 0x2000
		0x90,
		0xc3,
	}
	samples := profile.NewSamples(0x1000, 0x1002, 0x1005, 0x9999)

	var buf bytes.Buffer
	r, err := XML(&buf, code, 0x1000, samples, Options{Disasm: disasm.Options{Resolver: res}})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		`<disassembly begin="0x1000" end="0x1007" samples="3">`,
		`<instruction percent="66.67" hits="2" address="0x1000">`,
		`<target address="0x2000" name="StubRoutines::helper"></target>`,
		`<instruction percent="33.33" hits="1" address="0x1005">`,
		`<instruction address="0x1006">`,
		`<raw>e8fb0f0000</raw>`,
		`<text>ret</text>`,
		`</disassembly>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in:\n%s", want, out)
		}
	}
	if r.Insts != 3 {
		t.Errorf("Insts = %d", r.Insts)
	}
}

func TestXMLSelfTargetOmitted(t *testing.T) {
	reg := &region.Static{RegionName: "m", RegionKind: region.KindCompiled, Low: 0x1000, High: 0x1010}
	var buf bytes.Buffer
	// jmp to the region's own start.
	_, err := XML(&buf, []byte{0xeb, 0xfe}, 0x1000, nil, Options{Disasm: disasm.Options{Region: reg}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "<target") {
		t.Errorf("self target emitted:\n%s", buf.String())
	}
}
