// Package config loads the disassembler's environment description: code
// generator conventions, the idiom set, field and table names, and the code
// regions known to the runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"jitdis/internal/disasm"
	"jitdis/internal/region"
)

var (
	ErrStackSize = errors.New("config: stack_size must be a power of two")
	ErrRegister  = errors.New("config: unknown register")
	ErrRange     = errors.New("config: empty or inverted range")
	ErrOffset    = errors.New("config: bad field offset")
)

// Addr is an address or size. In YAML it may be written in decimal or with a
// 0x prefix; underscores are ignored.
type Addr uint64

func parseAddr(s string) (Addr, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(s), "_", ""), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("config: bad address %q: %w", s, err)
	}
	return Addr(v), nil
}

func (a *Addr) UnmarshalYAML(n *yaml.Node) error {
	v, err := parseAddr(n.Value)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a Addr) MarshalYAML() (any, error) {
	return fmt.Sprintf("0x%x", uint64(a)), nil
}

// JSONSchema describes Addr as an integer or a hex string.
func (Addr) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "integer", Minimum: "0"},
			{Type: "string", Pattern: "^(0[xX])?[0-9a-fA-F_]+$"},
		},
	}
}

// Table describes a runtime metadata table.
type Table struct {
	Name      string `yaml:"name" json:"name" jsonschema:"required"`
	Base      Addr   `yaml:"base" json:"base" jsonschema:"required"`
	Size      Addr   `yaml:"size" json:"size" jsonschema:"required"`
	EntrySize Addr   `yaml:"entry_size,omitempty" json:"entry_size,omitempty" jsonschema:"description=Entry size in bytes; 0 renders byte offsets"`
}

// Routine is a named span inside the interpreter.
type Routine struct {
	Name  string `yaml:"name" json:"name" jsonschema:"required"`
	Begin Addr   `yaml:"begin" json:"begin" jsonschema:"required"`
	End   Addr   `yaml:"end" json:"end" jsonschema:"required"`
}

// Interpreter is the interpreter's code range and its routines.
type Interpreter struct {
	Begin    Addr      `yaml:"begin" json:"begin" jsonschema:"required"`
	End      Addr      `yaml:"end" json:"end" jsonschema:"required"`
	Routines []Routine `yaml:"routines,omitempty" json:"routines,omitempty"`
}

// Stub is a hand-generated stub.
type Stub struct {
	Group string `yaml:"group" json:"group" jsonschema:"required,description=Generator that emitted the stub"`
	Name  string `yaml:"name" json:"name" jsonschema:"required"`
	Begin Addr   `yaml:"begin" json:"begin" jsonschema:"required"`
	End   Addr   `yaml:"end" json:"end" jsonschema:"required"`
}

// SubRange is a named entry point inside a partitioned region.
type SubRange struct {
	ID    string `yaml:"id" json:"id" jsonschema:"required,enum=entry,enum=verified_entry,enum=osr_entry,enum=exception_handler,enum=deopt_handler,enum=unwind_handler,enum=trampoline,enum=slow_path"`
	Begin Addr   `yaml:"begin" json:"begin" jsonschema:"required"`
	End   Addr   `yaml:"end" json:"end" jsonschema:"required"`
}

// Region is a code region of the code cache. Offset-keyed maps use decimal
// or 0x-prefixed keys relative to Begin.
type Region struct {
	Name      string              `yaml:"name,omitempty" json:"name,omitempty"`
	Kind      string              `yaml:"kind" json:"kind" jsonschema:"required,enum=compiled,enum=baseline,enum=stub-blob,enum=adapter,enum=interpreter,enum=native"`
	Owner     string              `yaml:"owner,omitempty" json:"owner,omitempty" jsonschema:"description=Routine the region was generated for"`
	Begin     Addr                `yaml:"begin" json:"begin" jsonschema:"required"`
	End       Addr                `yaml:"end" json:"end" jsonschema:"required"`
	Trailer   Addr                `yaml:"trailer,omitempty" json:"trailer,omitempty" jsonschema:"description=Offset of the non-code trailer"`
	SubRanges []SubRange          `yaml:"sub_ranges,omitempty" json:"sub_ranges,omitempty"`
	Debug     map[string][]string `yaml:"debug,omitempty" json:"debug,omitempty"`
	Coverage  map[string][]string `yaml:"coverage,omitempty" json:"coverage,omitempty"`
	Remarks   map[string]string   `yaml:"remarks,omitempty" json:"remarks,omitempty"`
}

// Config is the complete disassembler configuration.
type Config struct {
	StackSize         Addr     `yaml:"stack_size" json:"stack_size" jsonschema:"title=Stack size,description=Thread stack size; a power of two"`
	TagBits           uint     `yaml:"tag_bits" json:"tag_bits" jsonschema:"title=Tag bits,description=Width of the pointer tag stripped by shl/shr pairs"`
	TagMaskBase       Addr     `yaml:"tag_mask_base,omitempty" json:"tag_mask_base,omitempty" jsonschema:"description=Known tag-mask base address"`
	PreservedRegister string   `yaml:"preserved_register" json:"preserved_register" jsonschema:"description=Register not clobbered by calls"`
	Idioms            []string `yaml:"idioms" json:"idioms" jsonschema:"description=Enabled provenance idioms in application order"`

	ImmediateBase    int  `yaml:"immediate_base" json:"immediate_base" jsonschema:"minimum=2,maximum=36"`
	FailureTailBytes int  `yaml:"failure_tail_bytes" json:"failure_tail_bytes" jsonschema:"description=Bytes still scanned after a soft decode failure"`
	MaxSteps         int  `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
	Demangle         bool `yaml:"demangle" json:"demangle"`

	ThreadFields map[string]string `yaml:"thread_fields,omitempty" json:"thread_fields,omitempty" jsonschema:"description=Thread-pointer offset to field name"`
	FrameFields  map[string]string `yaml:"frame_fields,omitempty" json:"frame_fields,omitempty" jsonschema:"description=Frame-pointer offset to slot name"`

	Tables      []Table      `yaml:"tables,omitempty" json:"tables,omitempty"`
	Interpreter *Interpreter `yaml:"interpreter,omitempty" json:"interpreter,omitempty"`
	Stubs       []Stub       `yaml:"stubs,omitempty" json:"stubs,omitempty"`
	Regions     []Region     `yaml:"regions,omitempty" json:"regions,omitempty"`
}

// DefaultFailureTail is the scan cap applied after a soft decode failure.
const DefaultFailureTail = 256

// Default returns the configuration used when no file is given.
func Default() *Config {
	cv := disasm.DefaultConventions()
	return &Config{
		StackSize:         Addr(cv.StackSize),
		TagBits:           cv.TagBits,
		PreservedRegister: disasm.RegName(cv.PreservedReg, 8, true),
		Idioms:            disasm.IdiomNames(),
		ImmediateBase:     16,
		FailureTailBytes:  DefaultFailureTail,
		Demangle:          true,
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from JITDIS_STACK_SIZE, JITDIS_TAG_BITS and
// JITDIS_IMM_BASE.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("JITDIS_STACK_SIZE"); v != "" {
		a, err := parseAddr(v)
		if err != nil {
			return fmt.Errorf("JITDIS_STACK_SIZE: %w", err)
		}
		c.StackSize = a
	}
	if v := os.Getenv("JITDIS_TAG_BITS"); v != "" {
		n, err := strconv.ParseUint(v, 0, 8)
		if err != nil {
			return fmt.Errorf("config: JITDIS_TAG_BITS: %w", err)
		}
		c.TagBits = uint(n)
	}
	if v := os.Getenv("JITDIS_IMM_BASE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: JITDIS_IMM_BASE: %w", err)
		}
		c.ImmediateBase = n
	}
	return nil
}

// Validate checks the configuration for values the disassembler cannot use.
func (c *Config) Validate() error {
	if s := uint64(c.StackSize); s == 0 || s&(s-1) != 0 {
		return fmt.Errorf("%w: 0x%x", ErrStackSize, s)
	}
	if c.TagBits >= 64 {
		return fmt.Errorf("config: tag_bits %d out of range", c.TagBits)
	}
	if _, ok := disasm.ParseReg(c.PreservedRegister); !ok {
		return fmt.Errorf("%w: %q", ErrRegister, c.PreservedRegister)
	}
	if _, err := disasm.ParseIdioms(c.Idioms); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ImmediateBase < 2 || c.ImmediateBase > 36 {
		return fmt.Errorf("config: immediate_base %d out of range", c.ImmediateBase)
	}
	if c.FailureTailBytes < 0 {
		return fmt.Errorf("config: negative failure_tail_bytes")
	}
	if _, err := parseFields(c.ThreadFields); err != nil {
		return err
	}
	if _, err := parseFields(c.FrameFields); err != nil {
		return err
	}
	for _, t := range c.Tables {
		if t.Size == 0 {
			return fmt.Errorf("%w: table %s", ErrRange, t.Name)
		}
	}
	if in := c.Interpreter; in != nil {
		if in.End <= in.Begin {
			return fmt.Errorf("%w: interpreter", ErrRange)
		}
		for _, r := range in.Routines {
			if r.End <= r.Begin {
				return fmt.Errorf("%w: interpreter routine %s", ErrRange, r.Name)
			}
		}
	}
	for _, s := range c.Stubs {
		if s.End <= s.Begin {
			return fmt.Errorf("%w: stub %s::%s", ErrRange, s.Group, s.Name)
		}
	}
	for _, r := range c.Regions {
		if r.End <= r.Begin {
			return fmt.Errorf("%w: region %s", ErrRange, r.Name)
		}
		for _, sr := range r.SubRanges {
			if _, ok := region.ParseStubID(sr.ID); !ok {
				return fmt.Errorf("config: region %s: unknown sub-range id %q", r.Name, sr.ID)
			}
		}
		for _, m := range []map[string][]string{r.Debug, r.Coverage} {
			for k := range m {
				if _, err := parseAddr(k); err != nil {
					return fmt.Errorf("config: region %s: %w", r.Name, err)
				}
			}
		}
		for k := range r.Remarks {
			if _, err := parseAddr(k); err != nil {
				return fmt.Errorf("config: region %s: %w", r.Name, err)
			}
		}
	}
	return nil
}

func parseFields(m map[string]string) (map[int64]string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[int64]string, len(m))
	for k, name := range m {
		k = strings.TrimSpace(k)
		neg := strings.HasPrefix(k, "-")
		a, err := parseAddr(strings.TrimPrefix(k, "-"))
		if err != nil {
			return nil, fmt.Errorf("%w %q", ErrOffset, k)
		}
		off := int64(a)
		if neg {
			off = -off
		}
		out[off] = name
	}
	return out, nil
}
