package disasm

// Provenance is the tracker's belief about what a register currently holds.
// It is derived from the instruction stream alone and is only a hint.
type Provenance uint8

const (
	Unknown Provenance = iota
	StackPointer
	FramePointer
	ThreadPointer
	TagStripInProgress
)

var provenanceNames = [...]string{
	Unknown:            "unknown",
	StackPointer:       "sp",
	FramePointer:       "fp",
	ThreadPointer:      "thread",
	TagStripInProgress: "tag-strip",
}

func (p Provenance) String() string {
	if int(p) < len(provenanceNames) {
		return provenanceNames[p]
	}
	return "unknown"
}

// suffix is appended to a register name when it is referenced.
func (p Provenance) suffix() string {
	switch p {
	case StackPointer, FramePointer, ThreadPointer:
		return "(" + p.String() + ")"
	}
	return ""
}

// RegisterFile holds one provenance tag per general-purpose register.
type RegisterFile [NumRegs]Provenance

// NewRegisterFile returns the state at the start of a session: rsp holds the
// stack pointer, everything else is unknown.
func NewRegisterFile() RegisterFile {
	var rf RegisterFile
	rf[RSP] = StackPointer
	return rf
}

// Get returns the provenance of register n.
func (rf *RegisterFile) Get(n int) Provenance {
	if n < 0 || n >= NumRegs {
		return Unknown
	}
	return rf[n]
}

func (rf *RegisterFile) set(n int, p Provenance) {
	if n >= 0 && n < NumRegs {
		rf[n] = p
	}
}

// render returns the display name of register n, suffixed with its
// provenance. rsp is not suffixed while it holds the stack pointer.
func (rf *RegisterFile) render(n, size int, rex bool) string {
	name := RegName(n, size, rex)
	if size != 8 || (n == RSP && rf[RSP] == StackPointer) {
		return name
	}
	return name + rf.Get(n).suffix()
}
