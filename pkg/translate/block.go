package translate

import (
	"fmt"

	"github.com/carved4/pecode/pkg/buffer"
	"github.com/carved4/pecode/pkg/emit"
	"github.com/carved4/pecode/pkg/vmcode"
	"golang.org/x/arch/x86/x86asm"
)

// capacityMultiplier sizes the output buffer relative to the input
// region. It does not cover the worst case. A memory operand's address
// unroll is 52 bytes when it has a base register and no displacement or
// index (LDI payloads included), so the shortest MOV with a memory
// source (8B 00) emits 60 bytes from 2 input bytes, 30x, and a 2-byte
// ADD/SUB with a memory destination (00 00, add [rax], al) loads the
// memory operand twice, adds and stores back for 172 bytes, 86x.
// Register and immediate forms, including the VM_SWITCH and re-entry
// trampoline around unsupported stretches, stay under 24x. A region
// dense enough in memory operands to average more than 24 bytes of
// p-code per input byte overflows the buffer, and
// TranslateInstructionBlock returns an error for it.
const capacityMultiplier = 24

// minCapacity guarantees small regions still have room for the leading/
// trailing VM_SWITCH, VM_EXIT or VM_EXIT2 words plus one trampoline.
const minCapacity = 256

// TranslateInstructionBlock walks the native bytes in input in decode
// order, translating each supported instruction to p-code and
// interleaving raw native bytes (bracketed by VM_SWITCH/VM_EXIT2) for
// unsupported stretches.
func TranslateInstructionBlock(input []byte, ctx *Context) (*buffer.Cursor, error) {
	capacity := len(input) * capacityMultiplier
	if capacity < minCapacity {
		capacity = minCapacity
	}
	out, err := buffer.Allocate(capacity)
	if err != nil {
		return nil, fmt.Errorf("[[translate]] allocating output buffer: %w", err)
	}

	if ctx.EmitTimingTrap {
		if err := EmitTimingTrap(out); err != nil {
			return nil, fmt.Errorf("[[translate]] emitting timing trap: %w", err)
		}
	}

	isProbing := false
	vmSwitched := false

	offset := 0
	for offset < len(input) {
		inst, err := x86asm.Decode(input[offset:], 64)
		if err != nil {
			return nil, fmt.Errorf("[[translate]] decoding at offset %d: %w", offset, err)
		}

		supported, err := TranslateInstruction(out, inst, ctx, isProbing)
		if err != nil {
			return nil, fmt.Errorf("[[translate]] out of memory translating instruction at offset %d: %w", offset, err)
		}

		if !supported {
			if !isProbing {
				if err := emitWord(out, vmcode.OpVMSwitch, vmcode.ParamNone); err != nil {
					return nil, fmt.Errorf("[[translate]] emitting VM_SWITCH: %w", err)
				}
				vmSwitched = true
				isProbing = true
			}
			if err := out.Write(input[offset : offset+inst.Len]); err != nil {
				return nil, fmt.Errorf("[[translate]] out of memory appending native bytes at offset %d: %w", offset, err)
			}
		} else if isProbing {
			isProbing = false
			if err := emitReentryTrampoline(out, ctx); err != nil {
				return nil, err
			}
			// The probing call above was a no-op; translate again for
			// real now that we know this instruction is supported.
			if _, err := TranslateInstruction(out, inst, ctx, false); err != nil {
				return nil, fmt.Errorf("[[translate]] out of memory translating instruction at offset %d: %w", offset, err)
			}
		}

		offset += inst.Len
	}

	finalOp := vmcode.OpVMExit
	if vmSwitched {
		finalOp = vmcode.OpVMExit2
	}
	if err := emitWord(out, finalOp, vmcode.ParamNone); err != nil {
		return nil, fmt.Errorf("[[translate]] emitting final exit opcode: %w", err)
	}

	return out, nil
}

// emitReentryTrampoline writes the native push/push/jmp sequence that
// transfers control from a hybrid-native stretch back into the VM.
func emitReentryTrampoline(out *buffer.Cursor, ctx *Context) error {
	trampolineStart := out.CursorPos()

	vip := (ctx.VCodeBlockRVA - ctx.VMBlockRVA) + uint32(trampolineStart) + emit.TrampolineLen

	key, err := vmcode.GenerateKey()
	if err != nil {
		return fmt.Errorf("[[translate]] generating vip key for re-entry trampoline: %w", err)
	}
	encodedVIP := vmcode.EncodeVIPEntry(vip, key)

	if err := emit.Push32(out, encodedVIP); err != nil {
		return fmt.Errorf("[[translate]] emitting re-entry trampoline vip push: %w", err)
	}

	returnAddr := int32(ctx.VMBlockRVA) - int32(ctx.OriginalBlockRVA+10)
	if err := emit.Push32(out, uint32(returnAddr)); err != nil {
		return fmt.Errorf("[[translate]] emitting re-entry trampoline return-address push: %w", err)
	}

	jmpOffset := int32(ctx.VMBlockRVA) - int32(ctx.VCodeBlockRVA+uint32(out.CursorPos()))
	if err := emit.NearJmp(out, jmpOffset); err != nil {
		return fmt.Errorf("[[translate]] emitting re-entry trampoline jmp: %w", err)
	}

	return nil
}
