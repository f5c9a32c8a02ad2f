// Package emit produces raw x86/x86-64 instruction bytes for the handful
// of native opcodes the translator and orchestrator need to splice into a
// PE image: push-immediate and near-relative call/jmp. Stub bytes are
// hand-assembled directly into a buffer rather than via an assembler
// package, since only a few fixed instruction shapes are ever needed.
package emit

import "github.com/carved4/pecode/pkg/buffer"

// addressSize is the length in bytes of a near call/jmp instruction
// (1 opcode byte + 4 byte rel32), used to convert a target offset into
// the rel32 the CPU actually expects (relative to the end of the
// instruction, not its start).
const addressSize = 0x05

// Push32 emits `push imm32` (0x68 + 4-byte little-endian immediate).
func Push32(c *buffer.Cursor, value uint32) error {
	if err := c.WriteByte(0x68); err != nil {
		return err
	}
	return c.WriteUint32(value)
}

// Push64 emits a 0x68 opcode followed by a full 8-byte immediate. This is
// not a single legal x86-64 instruction (push imm32 only ever pushes a
// sign-extended 32-bit operand). Nothing in this module calls it: the
// translator writes LDI immediates itself, as a 4-byte p-code word
// followed by the 8-byte payload.
func Push64(c *buffer.Cursor, value uint64) error {
	if err := c.WriteByte(0x68); err != nil {
		return err
	}
	return c.WriteUint64(value)
}

// NearCall emits `call rel32` (0xE8 + 4-byte signed displacement),
// where offset is the absolute distance from the instruction's start to
// its target; the address-size correction happens here so callers always
// pass the raw distance.
func NearCall(c *buffer.Cursor, offset int32) error {
	if err := c.WriteByte(0xE8); err != nil {
		return err
	}
	return c.WriteInt32(offset - addressSize)
}

// NearJmp emits `jmp rel32` (0xE9 + 4-byte signed displacement), with the
// same offset convention as NearCall.
func NearJmp(c *buffer.Cursor, offset int32) error {
	if err := c.WriteByte(0xE9); err != nil {
		return err
	}
	return c.WriteInt32(offset - addressSize)
}

// TrampolineLen is the fixed size in bytes of the re-entry trampoline
// emitted by the block translator: push imm32; push imm32; jmp rel32,
// each exactly 5 bytes (1 opcode + 4 immediate/displacement).
const TrampolineLen = 3 * addressSize
