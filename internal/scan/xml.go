package scan

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"jitdis/internal/disasm"
	"jitdis/internal/profile"
)

// XMLTarget is the resolved destination of a call or jump.
type XMLTarget struct {
	Address string `xml:"address,attr"`
	Name    string `xml:"name,attr"`
}

// XMLInst is one instruction or raw-data record of the profiling output.
type XMLInst struct {
	XMLName xml.Name   `xml:"instruction"`
	Percent string     `xml:"percent,attr,omitempty"`
	Hits    uint64     `xml:"hits,attr,omitempty"`
	Address string     `xml:"address,attr"`
	Status  string     `xml:"status,attr,omitempty"`
	Raw     string     `xml:"raw"`
	Text    string     `xml:"text"`
	Target  *XMLTarget `xml:"target,omitempty"`
}

// XML renders the range as a <disassembly> document. Samples from src that
// fall in the range are bucketed per byte; instructions with hits carry the
// hit count and their share of all samples in the range. Direct branches to
// code outside the range carry a nested <target>.
func XML(w io.Writer, code []byte, begin uint64, src profile.Source, opts Options) (*Result, error) {
	end := begin + uint64(len(code))
	buckets := profile.Bucket(src, begin, end)

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	root := xml.StartElement{
		Name: xml.Name{Local: "disassembly"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "begin"}, Value: fmt.Sprintf("0x%x", begin)},
			{Name: xml.Name{Local: "end"}, Value: fmt.Sprintf("0x%x", end)},
			{Name: xml.Name{Local: "samples"}, Value: fmt.Sprint(buckets.Total)},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, fmt.Errorf("scan: xml: %w", err)
	}

	res, err := newDriver(code, begin, opts).run(func(st step) error {
		return enc.Encode(xmlRecord(st, buckets))
	})
	if err != nil {
		return res, fmt.Errorf("scan: xml: %w", err)
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return res, fmt.Errorf("scan: xml: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return res, fmt.Errorf("scan: xml: %w", err)
	}
	_, err = io.WriteString(w, "\n")
	return res, err
}

func xmlRecord(st step, b *profile.Buckets) XMLInst {
	if st.kind == stepRaw {
		return XMLInst{
			Address: fmt.Sprintf("0x%x", st.addr),
			Raw:     rawHex(st.raw),
			Text:    "raw data",
		}
	}
	inst := st.inst
	rec := XMLInst{
		Address: fmt.Sprintf("0x%x", inst.Addr),
		Raw:     rawHex(inst.Raw),
		Text:    inst.Text,
	}
	if inst.Status != disasm.StatusOK {
		rec.Status = inst.Status.String()
	}
	if hits := b.Range(inst.Addr, inst.Size); hits > 0 {
		rec.Hits = hits
		rec.Percent = fmt.Sprintf("%.2f", b.Percent(hits))
	}
	switch inst.Branch {
	case disasm.BranchCall, disasm.BranchJump, disasm.BranchCond:
		// TargetName is only set for targets outside the scanned range.
		if inst.HasTarget && inst.TargetName != "" {
			rec.Target = &XMLTarget{
				Address: fmt.Sprintf("0x%x", inst.Target),
				Name:    inst.TargetName,
			}
		}
	}
	return rec
}

func rawHex(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		fmt.Fprintf(&b, "%02x", c)
	}
	return b.String()
}
