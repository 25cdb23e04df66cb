package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"jitdis/internal/config"
	"jitdis/internal/disasm"
	"jitdis/internal/elfx"
	"jitdis/internal/scan"
	"jitdis/internal/symbols"
)

var errBadRange = errors.New("bad address range")

// app is the state shared by every command.
type app struct {
	lg      *log.Logger
	cfgPath string
	debug   bool
	cfg     *config.Config
}

func newRootCmd(lg *log.Logger) *cobra.Command {
	a := &app{lg: lg, cfg: config.Default()}
	root := &cobra.Command{
		Use:   "jitdis",
		Short: "Symbolicating x86-64 disassembler for generated code",
		Long: `jitdis decodes x86-64 machine code and annotates it with register provenance
(stack, frame and thread pointers), thread-field names and the names of call
and jump targets resolved against configured code regions, stubs and the
host binary's symbol table.`,
		Example: `
# Disassemble one function of a binary
jitdis disasm ./libjvm.so JVM_GetStackTrace

# Disassemble a VA range with profiling samples as XML
jitdis disasm ./code.bin 0x401000:0x401200 --xml --samples pcs.txt

# Decode bytes from the command line
jitdis raw "55 48 89 e5 c3"
  `,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.debug {
				a.lg.SetLevel(log.DebugLevel)
			}
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().BoolVarP(&a.debug, "debug", "d", false, "Debug logging")

	root.AddCommand(
		newDisasmCmd(a),
		newRawCmd(a),
		newResolveCmd(a),
		newDumpCmd(a),
		newThreadAuditCmd(a),
		newSchemaCmd(),
	)
	return root
}

// resolver builds the configured resolver, with f's symbol table as the
// native fallback when a binary is open.
func (a *app) resolver(f *elfx.File) *symbols.Resolver {
	if f == nil {
		return a.cfg.Resolver(nil)
	}
	return a.cfg.Resolver(f)
}

// options builds decoder options for a range starting at begin. A
// configured region containing begin becomes the scanned region.
func (a *app) options(res *symbols.Resolver, f *elfx.File, begin uint64) (disasm.Options, error) {
	opts, err := a.cfg.DisasmOptions(res)
	if err != nil {
		return opts, err
	}
	opts.BaseAddr = begin
	if reg, ok := res.Code.Lookup(begin); ok {
		opts.Region = reg
	}
	if f != nil {
		opts.Memory = f
	}
	return opts, nil
}

func (a *app) scanOptions(opts disasm.Options) scan.Options {
	return scan.Options{
		Disasm:      opts,
		FailureTail: a.cfg.FailureTailBytes,
		MaxSteps:    a.cfg.MaxSteps,
		Logger:      a.lg,
	}
}

// summarize logs a scan's diagnostics.
func (a *app) summarize(res *scan.Result) {
	for _, d := range res.Diags.Items() {
		a.lg.Debug("diagnostic", "kind", d.Kind, "addr", fmt.Sprintf("0x%x", d.Addr), "msg", d.Msg)
	}
	a.lg.Info("scan finished",
		"insts", res.Insts,
		"raw", res.RawBytes,
		"end", fmt.Sprintf("0x%x", res.End),
		"capped", res.Capped,
		"diags", res.Diags.Len())
}

func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errBadRange, s)
	}
	return v, nil
}

// parseRange accepts "begin:end" or "begin+len".
func parseRange(s string) (begin, end uint64, err error) {
	lo, hi, isLen := strings.Cut(s, "+")
	if !isLen {
		var ok bool
		lo, hi, ok = strings.Cut(s, ":")
		if !ok {
			return 0, 0, fmt.Errorf("%w: %q (want begin:end or begin+len)", errBadRange, s)
		}
	}
	if begin, err = parseAddr(lo); err != nil {
		return 0, 0, err
	}
	if end, err = parseAddr(hi); err != nil {
		return 0, 0, err
	}
	if isLen {
		end += begin
	}
	if end < begin {
		return 0, 0, fmt.Errorf("%w: end 0x%x before begin 0x%x", errBadRange, end, begin)
	}
	return begin, end, nil
}

// target is the code selected on the command line.
type target struct {
	name       string
	begin, end uint64
	code       []byte
}

// selectCode resolves a VA range ("0x1000:0x1080", "0x1000+0x80") or an ELF
// function symbol to its bytes.
func selectCode(f *elfx.File, what string) (*target, error) {
	if what != "" && what[0] >= '0' && what[0] <= '9' {
		begin, end, err := parseRange(what)
		if err != nil {
			return nil, err
		}
		code, err := f.ReadBytesAtVA(begin, int(end-begin))
		if err != nil {
			return nil, err
		}
		return &target{begin: begin, end: begin + uint64(len(code)), code: code}, nil
	}
	sym, code, err := f.FuncBytes(what)
	if err != nil {
		return nil, err
	}
	return &target{name: sym.Name, begin: sym.Addr, end: sym.End(), code: code}, nil
}
