package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"jitdis/internal/elfx"
	"jitdis/internal/profile"
	"jitdis/internal/scan"
	"jitdis/internal/ui/colorize"
)

type renderFlags struct {
	xml     bool
	samples string
	color   string
}

func (rf *renderFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&rf.xml, "xml", false, "Profiling XML instead of text")
	cmd.Flags().StringVar(&rf.samples, "samples", "", "PC sample file for --xml (one \"pc [count]\" per line)")
	cmd.Flags().StringVar(&rf.color, "color", "auto", "Colour text output: auto, always, never")
}

func (rf *renderFlags) colorOn(w io.Writer) (bool, error) {
	switch rf.color {
	case "auto":
		return colorize.Enabled(w), nil
	case "always":
		return true, nil
	case "never":
		return false, nil
	}
	return false, fmt.Errorf("--color: unknown mode %q", rf.color)
}

// render writes [begin, begin+len(code)) to w as text or XML.
func (rf *renderFlags) render(w io.Writer, code []byte, begin uint64, opts scan.Options) (*scan.Result, error) {
	if rf.xml {
		var src profile.Source
		if rf.samples != "" {
			s, err := profile.LoadFile(rf.samples)
			if err != nil {
				return nil, err
			}
			src = s
		}
		return scan.XML(w, code, begin, src, opts)
	}
	color, err := rf.colorOn(w)
	if err != nil {
		return nil, err
	}
	if !color {
		return scan.Text(w, code, begin, opts)
	}
	var buf bytes.Buffer
	res, err := scan.Text(&buf, code, begin, opts)
	if err != nil {
		return res, err
	}
	_, err = io.WriteString(w, colorize.Text(buf.String()))
	return res, err
}

func newDisasmCmd(a *app) *cobra.Command {
	var rf renderFlags
	cmd := &cobra.Command{
		Use:   "disasm <elf> <symbol|begin:end|begin+len>",
		Short: "Disassemble a function or address range of an x86-64 ELF",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := elfx.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			t, err := selectCode(f, args[1])
			if err != nil {
				return fmt.Errorf("disasm: %w", err)
			}
			res := a.resolver(f)
			opts, err := a.options(res, f, t.begin)
			if err != nil {
				return err
			}
			if opts.Region == nil && t.name != "" {
				opts.SelfName, opts.SelfEnd = t.name, t.end
			}
			a.lg.Debug("disassembling", "name", t.name, "begin", fmt.Sprintf("0x%x", t.begin), "bytes", len(t.code))

			result, err := rf.render(cmd.OutOrStdout(), t.code, t.begin, a.scanOptions(opts))
			if err != nil {
				return fmt.Errorf("disasm: %w", err)
			}
			a.summarize(result)
			return nil
		},
	}
	rf.register(cmd)
	return cmd
}
