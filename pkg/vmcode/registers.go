package vmcode

import "golang.org/x/arch/x86/x86asm"

// slotTable assigns each of the 16 architectural general-purpose
// registers a byte offset into the VM interpreter's register area. The
// exact values are opaque outside the VM binary; what matters is that
// this table is the single source of truth every translator call site
// uses, so the p-code it emits stays internally consistent regardless of
// what the VM's actual layout is.
var slotTable = [16]uint16{
	128, 16, 24, 8, 32, 40, 48, 56,
	64, 72, 80, 88, 96, 104, 112, 120,
}

// canonical64 maps any width (8/16/32/64-bit) of a general-purpose
// register to its 64-bit form, so AL/AX/EAX/RAX all resolve to the same
// slot. Segment, floating-point, vector and system registers are not
// general-purpose and have no slot.
var canonical64 = map[x86asm.Reg]x86asm.Reg{
	x86asm.AL: x86asm.RAX, x86asm.AX: x86asm.RAX, x86asm.EAX: x86asm.RAX, x86asm.RAX: x86asm.RAX,
	x86asm.CL: x86asm.RCX, x86asm.CX: x86asm.RCX, x86asm.ECX: x86asm.RCX, x86asm.RCX: x86asm.RCX,
	x86asm.DL: x86asm.RDX, x86asm.DX: x86asm.RDX, x86asm.EDX: x86asm.RDX, x86asm.RDX: x86asm.RDX,
	x86asm.BL: x86asm.RBX, x86asm.BX: x86asm.RBX, x86asm.EBX: x86asm.RBX, x86asm.RBX: x86asm.RBX,
	x86asm.SPB: x86asm.RSP, x86asm.SP: x86asm.RSP, x86asm.ESP: x86asm.RSP, x86asm.RSP: x86asm.RSP,
	x86asm.BPB: x86asm.RBP, x86asm.BP: x86asm.RBP, x86asm.EBP: x86asm.RBP, x86asm.RBP: x86asm.RBP,
	x86asm.SIB: x86asm.RSI, x86asm.SI: x86asm.RSI, x86asm.ESI: x86asm.RSI, x86asm.RSI: x86asm.RSI,
	x86asm.DIB: x86asm.RDI, x86asm.DI: x86asm.RDI, x86asm.EDI: x86asm.RDI, x86asm.RDI: x86asm.RDI,
	x86asm.R8B: x86asm.R8, x86asm.R8W: x86asm.R8, x86asm.R8L: x86asm.R8, x86asm.R8: x86asm.R8,
	x86asm.R9B: x86asm.R9, x86asm.R9W: x86asm.R9, x86asm.R9L: x86asm.R9, x86asm.R9: x86asm.R9,
	x86asm.R10B: x86asm.R10, x86asm.R10W: x86asm.R10, x86asm.R10L: x86asm.R10, x86asm.R10: x86asm.R10,
	x86asm.R11B: x86asm.R11, x86asm.R11W: x86asm.R11, x86asm.R11L: x86asm.R11, x86asm.R11: x86asm.R11,
	x86asm.R12B: x86asm.R12, x86asm.R12W: x86asm.R12, x86asm.R12L: x86asm.R12, x86asm.R12: x86asm.R12,
	x86asm.R13B: x86asm.R13, x86asm.R13W: x86asm.R13, x86asm.R13L: x86asm.R13, x86asm.R13: x86asm.R13,
	x86asm.R14B: x86asm.R14, x86asm.R14W: x86asm.R14, x86asm.R14L: x86asm.R14, x86asm.R14: x86asm.R14,
	x86asm.R15B: x86asm.R15, x86asm.R15W: x86asm.R15, x86asm.R15L: x86asm.R15, x86asm.R15: x86asm.R15,
}

// registerIndex orders the 16 canonical 64-bit registers to match
// slotTable's index order: RAX, RCX, RDX, RBX, RSP, RBP, RSI, RDI, R8-R15.
var registerIndex = map[x86asm.Reg]int{
	x86asm.RAX: 0, x86asm.RCX: 1, x86asm.RDX: 2, x86asm.RBX: 3,
	x86asm.RSP: 4, x86asm.RBP: 5, x86asm.RSI: 6, x86asm.RDI: 7,
	x86asm.R8: 8, x86asm.R9: 9, x86asm.R10: 10, x86asm.R11: 11,
	x86asm.R12: 12, x86asm.R13: 13, x86asm.R14: 14, x86asm.R15: 15,
}

// Slot returns the VM register-area slot for reg, collapsing register
// width aliases, and ok=false if reg is not a general-purpose register.
func Slot(reg x86asm.Reg) (slot uint16, ok bool) {
	canon, ok := canonical64[reg]
	if !ok {
		return 0, false
	}
	idx, ok := registerIndex[canon]
	if !ok {
		return 0, false
	}
	return slotTable[idx], true
}
