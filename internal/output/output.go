// Package output writes dump results to files.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jitdis/internal/disasm"
)

// IndexEntry is one line in index.jsonl.
type IndexEntry struct {
	Name string `json:"name"`
	PC   string `json:"pc"`
	Size uint64 `json:"size"`
	File string `json:"file"`
}

// SymbolEntry represents a named code address.
type SymbolEntry struct {
	Address uint64 `json:"address"`
	Name    string `json:"name"`
	Size    uint64 `json:"size,omitempty"`
}

// WriteSymbolsJSON writes symbols to symbols.json.
func WriteSymbolsJSON(dir string, symbols []SymbolEntry) error {
	return writeJSON(filepath.Join(dir, "symbols.json"), symbols)
}

// maxFileName bounds the sanitized part of a per-function file name.
const maxFileName = 200

var unsafeChars = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "_",
)

// FileName returns a collision-free file stem for a function: the
// sanitized name plus its hex address.
func FileName(name string, pc uint64) string {
	s := unsafeChars.Replace(name)
	if len(s) > maxFileName {
		s = s[:maxFileName]
	}
	if s == "" {
		s = "sub"
	}
	return fmt.Sprintf("%s_%x", s, pc)
}

// WriteASM writes disassembled instructions to asm/<name>.txt.
func WriteASM(dir, name string, insts []disasm.Inst) error {
	path := filepath.Join(dir, "asm", name+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}
	return os.WriteFile(path, []byte(disasm.Format(insts)), 0o644)
}

// WriteBin writes raw function bytes to asm/<name>.bin.
func WriteBin(dir, name string, data []byte) error {
	path := filepath.Join(dir, "asm", name+".bin")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteDOT writes a DOT graph to <dir>/<sub>/<name>.dot.
func WriteDOT(dir, sub, name, dot string) error {
	path := filepath.Join(dir, sub, name+".dot")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", sub, err)
	}
	return os.WriteFile(path, []byte(dot), 0o644)
}

// JSONL appends one JSON document per line to a file.
type JSONL struct {
	Path string
	N    int // records written

	f   *os.File
	enc *json.Encoder
}

// CreateJSONL creates (or truncates) path.
func CreateJSONL(path string) (*JSONL, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("output: create %s: %w", filepath.Base(path), err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONL{Path: path, f: f, enc: enc}, nil
}

// Encode writes v as one line.
func (j *JSONL) Encode(v any) error {
	if err := j.enc.Encode(v); err != nil {
		return fmt.Errorf("output: write %s: %w", filepath.Base(j.Path), err)
	}
	j.N++
	return nil
}

// Close closes the file.
func (j *JSONL) Close() error { return j.f.Close() }

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
