package translate

import (
	"fmt"

	"github.com/carved4/pecode/pkg/buffer"
	"github.com/carved4/pecode/pkg/vmcode"
	"golang.org/x/arch/x86/x86asm"
)

// IsSupported reports whether op is one of the four mnemonics this
// translator handles. The surface is deliberately narrow: ADD, SUB, MOV
// and CALL cover the shapes the VM opcodes below can express.
func IsSupported(op x86asm.Op) bool {
	switch op {
	case x86asm.ADD, x86asm.SUB, x86asm.MOV, x86asm.CALL:
		return true
	default:
		return false
	}
}

// TranslateInstruction maps one decoded native instruction to a sequence
// of p-code emissions. When probe is true, no bytes are written and the
// only observable effect is the returned supported flag. This is the
// side-effect-free probing call the block driver uses to look ahead one
// instruction before deciding where a hybrid stretch ends.
//
// Returns (supported, err); err is non-nil only for a buffer overflow
// (out-of-memory) encountered while emitting a supported instruction.
func TranslateInstruction(c *buffer.Cursor, inst x86asm.Inst, ctx *Context, probe bool) (bool, error) {
	if !IsSupported(inst.Op) {
		return false, nil
	}
	// CALL is supported only with an immediate operand; checking that
	// before the probe return keeps the probe's answer identical to the
	// real translation's.
	if inst.Op == x86asm.CALL {
		if _, ok := inst.Args[0].(x86asm.Imm); !ok {
			return false, nil
		}
	}
	if probe {
		return true, nil
	}

	switch inst.Op {
	case x86asm.ADD:
		return true, translateArith(c, inst, vmcode.OpVADD)
	case x86asm.SUB:
		return true, translateArith(c, inst, vmcode.OpVSUB)
	case x86asm.MOV:
		return true, translateMov(c, inst)
	case x86asm.CALL:
		// The operand shape was validated above; no p-code is emitted and
		// the call is not redirected anywhere (the block driver does not
		// do it either), so RIP-relative displacement inside a moved
		// region is not preserved.
		return true, nil
	default:
		return false, nil
	}
}

// translateArith loads operand[0] twice instead of operand[0] then
// operand[1] before emitting the arithmetic opcode. This is a known
// quirk of the load path, reproduced deliberately rather than fixed;
// translateMov below shows the non-buggy two-operand shape for
// comparison.
func translateArith(c *buffer.Cursor, inst x86asm.Inst, op vmcode.Opcode) error {
	dst := inst.Args[0]

	if err := emitLoad(c, dst); err != nil {
		return err
	}
	if err := emitLoad(c, dst); err != nil {
		return err
	}
	if err := emitWord(c, op, vmcode.ParamNone); err != nil {
		return err
	}
	return emitStore(c, dst)
}

// translateMov emits load(source) then store(destination), the
// non-buggy two-operand shape, unlike ADD/SUB above.
func translateMov(c *buffer.Cursor, inst x86asm.Inst) error {
	dst, src := inst.Args[0], inst.Args[1]

	if err := emitLoad(c, src); err != nil {
		return err
	}
	return emitStore(c, dst)
}

// emitLoad pushes the value of operand onto the VM stack: LDR for a
// register, an unrolled address computation plus LDM for memory, LDI
// plus an 8-byte immediate for an immediate. Pointer/Rel operands are
// not implemented and are skipped silently.
func emitLoad(c *buffer.Cursor, arg x86asm.Arg) error {
	switch v := arg.(type) {
	case x86asm.Reg:
		slot, ok := vmcode.Slot(v)
		if !ok {
			return nil
		}
		return emitWord(c, vmcode.OpLDR, slot)
	case x86asm.Mem:
		if err := unrollMemory(c, v); err != nil {
			return err
		}
		return emitWord(c, vmcode.OpLDM, vmcode.ParamNone)
	case x86asm.Imm:
		if err := emitWord(c, vmcode.OpLDI, vmcode.ParamNone); err != nil {
			return err
		}
		return c.WriteUint64(uint64(v))
	default:
		return nil
	}
}

// emitStore pops the top of the VM stack into operand: SVR for a
// register, an unrolled address computation plus SVM for memory.
// Anything else is skipped silently.
func emitStore(c *buffer.Cursor, arg x86asm.Arg) error {
	switch v := arg.(type) {
	case x86asm.Reg:
		slot, ok := vmcode.Slot(v)
		if !ok {
			return nil
		}
		return emitWord(c, vmcode.OpSVR, slot)
	case x86asm.Mem:
		if err := unrollMemory(c, v); err != nil {
			return err
		}
		return emitWord(c, vmcode.OpSVM, vmcode.ParamNone)
	default:
		return nil
	}
}

// unrollMemory expands a memory operand into explicit stack arithmetic:
// four pushes (base, displacement, index, scale) and always
// VADD/{VMUL,VADD}/VADD in that shape regardless of which of
// base/disp/index/scale are actually present, so every memory operand
// produces the same seven-word sequence. Its byte length varies: a
// register pushed with LDR is 4 bytes, a missing one pushed as LDI 0 is
// 12 (word plus 8-byte payload).
func unrollMemory(c *buffer.Cursor, mem x86asm.Mem) error {
	if mem.Base != 0 {
		slot, ok := vmcode.Slot(mem.Base)
		if !ok {
			if err := loadImmediate(c, 0); err != nil {
				return err
			}
		} else if err := emitWord(c, vmcode.OpLDR, slot); err != nil {
			return err
		}
	} else if err := loadImmediate(c, 0); err != nil {
		return err
	}

	if mem.Disp != 0 {
		if err := loadImmediate(c, uint64(mem.Disp)); err != nil {
			return err
		}
	} else if err := loadImmediate(c, 0); err != nil {
		return err
	}

	if err := emitWord(c, vmcode.OpVADD, vmcode.ParamNone); err != nil {
		return err
	}

	if mem.Index != 0 {
		slot, ok := vmcode.Slot(mem.Index)
		if !ok {
			if err := loadImmediate(c, 0); err != nil {
				return err
			}
		} else if err := emitWord(c, vmcode.OpLDR, slot); err != nil {
			return err
		}
	} else if err := loadImmediate(c, 0); err != nil {
		return err
	}

	if mem.Scale != 0 {
		if err := loadImmediate(c, uint64(mem.Scale)); err != nil {
			return err
		}
		if err := emitWord(c, vmcode.OpVMUL, vmcode.ParamNone); err != nil {
			return err
		}
	} else {
		if err := loadImmediate(c, 0); err != nil {
			return err
		}
		if err := emitWord(c, vmcode.OpVADD, vmcode.ParamNone); err != nil {
			return err
		}
	}

	return emitWord(c, vmcode.OpVADD, vmcode.ParamNone)
}

func loadImmediate(c *buffer.Cursor, v uint64) error {
	if err := emitWord(c, vmcode.OpLDI, vmcode.ParamNone); err != nil {
		return err
	}
	return c.WriteUint64(v)
}

// emitWord assembles and writes one p-code instruction word.
func emitWord(c *buffer.Cursor, op vmcode.Opcode, param uint16) error {
	if err := c.WriteUint32(vmcode.Assemble(op, param)); err != nil {
		return fmt.Errorf("[[translate]] emitting opcode %v: %w", op, err)
	}
	return nil
}
