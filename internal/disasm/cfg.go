package disasm

import "sort"

// BasicBlock represents a sequence of instructions with a single entry point.
type BasicBlock struct {
	ID      int
	Start   int    // index into FuncCFG.Insts (inclusive)
	End     int    // index into FuncCFG.Insts (exclusive)
	Succs   []Succ // successor edges
	IsEntry bool
	IsTerm  bool // ends with ret, ud2, hlt or a jump out of the function
}

// Succ describes a control-flow successor edge.
type Succ struct {
	BlockID int
	Cond    string // "" = unconditional, "T" = taken, "F" = fallthrough
}

// FuncCFG is a per-function control flow graph.
type FuncCFG struct {
	Name   string
	Blocks []BasicBlock
	Insts  []Inst
}

// BuildCFG constructs a control flow graph from a function's instruction stream.
// The algorithm:
//  1. Find block leaders: index 0, branch targets, instructions after terminators.
//  2. Partition instructions into blocks by leaders.
//  3. Compute successor edges from each block's last instruction.
//
// Branch targets that land inside an instruction (overlapping code, or data
// decoded as code) are ignored.
func BuildCFG(name string, insts []Inst) FuncCFG {
	if len(insts) == 0 {
		return FuncCFG{Name: name, Insts: insts}
	}

	addrToIdx := make(map[uint64]int, len(insts))
	for i, inst := range insts {
		addrToIdx[inst.Addr] = i
	}
	targetIdx := func(inst Inst) (int, bool) {
		if !inst.HasTarget || inst.Branch == BranchCall {
			return 0, false
		}
		idx, ok := addrToIdx[inst.Target]
		return idx, ok
	}

	// Pass 1: leaders.
	leaders := map[int]bool{0: true}
	for i, inst := range insts {
		if !inst.IsTerminator() {
			continue
		}
		if i+1 < len(insts) {
			leaders[i+1] = true
		}
		if idx, ok := targetIdx(inst); ok {
			leaders[idx] = true
		}
	}
	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	// Pass 2: partition.
	blocks := make([]BasicBlock, len(sorted))
	leaderToBlock := make(map[int]int, len(sorted))
	for i, start := range sorted {
		end := len(insts)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		blocks[i] = BasicBlock{ID: i, Start: start, End: end, IsEntry: start == 0}
		leaderToBlock[start] = i
	}

	// Pass 3: successors.
	for i := range blocks {
		blk := &blocks[i]
		last := insts[blk.End-1]
		next, hasNext := leaderToBlock[blk.End]

		if !last.IsTerminator() {
			if hasNext {
				blk.Succs = append(blk.Succs, Succ{BlockID: next})
			}
			continue
		}

		target := -1
		if idx, ok := targetIdx(last); ok {
			target = leaderToBlock[idx]
		}

		switch {
		case last.Branch == BranchCond:
			if target >= 0 {
				blk.Succs = append(blk.Succs, Succ{BlockID: target, Cond: "T"})
			}
			if hasNext {
				blk.Succs = append(blk.Succs, Succ{BlockID: next, Cond: "F"})
			}
		case last.Branch == BranchJump && target >= 0:
			blk.Succs = append(blk.Succs, Succ{BlockID: target})
		default:
			// ret, ud2, hlt, indirect jumps and jumps out of the function.
			blk.IsTerm = true
		}
	}

	return FuncCFG{Name: name, Blocks: blocks, Insts: insts}
}
