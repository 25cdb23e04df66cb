package disasm

// BranchKind classifies control-transfer instructions.
type BranchKind uint8

const (
	BranchNone BranchKind = iota
	BranchCall
	BranchIndirectCall
	BranchJump
	BranchIndirectJump
	BranchCond
	BranchReturn
)

var branchNames = [...]string{"", "call", "icall", "jmp", "ijmp", "jcc", "ret"}

func (k BranchKind) String() string {
	if int(k) < len(branchNames) {
		return branchNames[k]
	}
	return ""
}

// IsCall reports whether the instruction returns to the next instruction
// after transferring control.
func (k BranchKind) IsCall() bool {
	return k == BranchCall || k == BranchIndirectCall
}

// IsTerminator reports whether the instruction ends a basic block. Calls do
// not: they return to the next instruction.
func (k BranchKind) IsTerminator() bool {
	switch k {
	case BranchJump, BranchIndirectJump, BranchCond, BranchReturn:
		return true
	}
	return false
}

// IsTerminator reports whether inst ends a basic block. ud2 and hlt end a
// block without successors.
func (i Inst) IsTerminator() bool {
	return i.Branch.IsTerminator() || i.Mnemonic == "ud2" || i.Mnemonic == "hlt"
}
