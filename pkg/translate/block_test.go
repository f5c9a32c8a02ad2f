package translate

import (
	"encoding/binary"
	"testing"

	"github.com/carved4/pecode/pkg/vmcode"
	"golang.org/x/arch/x86/x86asm"
)

type decodedWord struct {
	op      vmcode.Opcode
	param   uint16
	payload uint64 // only valid when op == OpLDI
}

// decodeWords walks a p-code-only buffer (no VM_SWITCH/native stretches)
// splitting it back into words, consuming the 8-byte LDI payload.
func decodeWords(t *testing.T, data []byte) []decodedWord {
	t.Helper()
	var words []decodedWord
	i := 0
	for i < len(data) {
		if i+4 > len(data) {
			t.Fatalf("trailing bytes not a full word at %d", i)
		}
		word := binary.LittleEndian.Uint32(data[i : i+4])
		op, param := vmcode.Disassemble(word)
		i += 4
		dw := decodedWord{op: op, param: param}
		if op == vmcode.OpLDI {
			if i+8 > len(data) {
				t.Fatalf("truncated LDI payload at %d", i)
			}
			dw.payload = binary.LittleEndian.Uint64(data[i : i+8])
			i += 8
		}
		words = append(words, dw)
	}
	return words
}

func mustSlot(t *testing.T, reg x86asm.Reg) uint16 {
	t.Helper()
	slot, ok := vmcode.Slot(reg)
	if !ok {
		t.Fatalf("no slot for %v", reg)
	}
	return slot
}

func testContext() *Context {
	return &Context{
		OriginalBlockRVA: 0x1000,
		VMBlockRVA:       0x5000,
		VCodeBlockRVA:    0x6000,
	}
}

func TestTranslateBlockAdd(t *testing.T) {
	out, err := TranslateInstructionBlock([]byte{0x48, 0x01, 0xD8}, testContext())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	words := decodeWords(t, out.Written())

	raxSlot := mustSlot(t, x86asm.RAX)
	want := []decodedWord{
		{op: vmcode.OpLDR, param: raxSlot},
		{op: vmcode.OpLDR, param: raxSlot},
		{op: vmcode.OpVADD},
		{op: vmcode.OpSVR, param: raxSlot},
		{op: vmcode.OpVMExit},
	}
	assertWords(t, words, want)
}

func TestTranslateBlockMov(t *testing.T) {
	out, err := TranslateInstructionBlock([]byte{0x48, 0x89, 0xD8}, testContext())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	words := decodeWords(t, out.Written())

	raxSlot := mustSlot(t, x86asm.RAX)
	rbxSlot := mustSlot(t, x86asm.RBX)
	want := []decodedWord{
		{op: vmcode.OpLDR, param: rbxSlot},
		{op: vmcode.OpSVR, param: raxSlot},
		{op: vmcode.OpVMExit},
	}
	assertWords(t, words, want)
}

func TestTranslateBlockUnsupportedHLT(t *testing.T) {
	out, err := TranslateInstructionBlock([]byte{0xF4}, testContext())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	data := out.Written()
	if len(data) != 4+1+4 {
		t.Fatalf("got %d bytes, want 9", len(data))
	}
	op, _ := vmcode.Disassemble(binary.LittleEndian.Uint32(data[0:4]))
	if op != vmcode.OpVMSwitch {
		t.Fatalf("got first opcode %v, want VM_SWITCH", op)
	}
	if data[4] != 0xF4 {
		t.Fatalf("expected raw HLT byte preserved, got %#x", data[4])
	}
	op, _ = vmcode.Disassemble(binary.LittleEndian.Uint32(data[5:9]))
	if op != vmcode.OpVMExit2 {
		t.Fatalf("got last opcode %v, want VM_EXIT2 (since VM_SWITCH was emitted)", op)
	}
}

func TestTranslateBlockHybridAddHltAdd(t *testing.T) {
	input := []byte{0x48, 0x01, 0xD8, 0xF4, 0x48, 0x01, 0xD8}
	out, err := TranslateInstructionBlock(input, testContext())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	data := out.Written()

	raxSlot := mustSlot(t, x86asm.RAX)
	// First ADD sequence: 4 words (16 bytes).
	firstAdd := decodeWords(t, data[:16])
	assertWords(t, firstAdd, []decodedWord{
		{op: vmcode.OpLDR, param: raxSlot},
		{op: vmcode.OpLDR, param: raxSlot},
		{op: vmcode.OpVADD},
		{op: vmcode.OpSVR, param: raxSlot},
	})
	if firstAdd[3].op != vmcode.OpSVR {
		t.Fatalf("expected SVR as 4th word")
	}

	offset := 16
	op, _ := vmcode.Disassemble(binary.LittleEndian.Uint32(data[offset : offset+4]))
	if op != vmcode.OpVMSwitch {
		t.Fatalf("got %v at offset %d, want VM_SWITCH", op, offset)
	}
	offset += 4
	if data[offset] != 0xF4 {
		t.Fatalf("expected raw HLT byte at offset %d", offset)
	}
	offset++

	// Re-entry trampoline: push imm32; push imm32; jmp rel32 = 15 bytes.
	trampoline := data[offset : offset+15]
	if trampoline[0] != 0x68 || trampoline[5] != 0x68 || trampoline[10] != 0xE9 {
		t.Fatalf("unexpected trampoline bytes: % x", trampoline)
	}
	offset += 15

	// Second ADD sequence: 4 words (no VM_EXIT yet, that's the final word).
	secondAdd := decodeWords(t, data[offset:offset+16])
	assertWords(t, secondAdd, []decodedWord{
		{op: vmcode.OpLDR, param: raxSlot},
		{op: vmcode.OpLDR, param: raxSlot},
		{op: vmcode.OpVADD},
		{op: vmcode.OpSVR, param: raxSlot},
	})
	offset += 16

	final, _ := vmcode.Disassemble(binary.LittleEndian.Uint32(data[offset : offset+4]))
	if final != vmcode.OpVMExit2 {
		t.Fatalf("got final opcode %v, want VM_EXIT2", final)
	}
}

func TestTranslateBlockMemoryOperandUnrolling(t *testing.T) {
	// MOV RAX, [RCX*1+0x1000]
	input := []byte{0x48, 0x8B, 0x04, 0x0D, 0x00, 0x10, 0x00, 0x00}
	out, err := TranslateInstructionBlock(input, testContext())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	words := decodeWords(t, out.Written())

	rcxSlot := mustSlot(t, x86asm.RCX)
	raxSlot := mustSlot(t, x86asm.RAX)
	want := []decodedWord{
		{op: vmcode.OpLDI, payload: 0}, // no base
		{op: vmcode.OpLDI, payload: 0x1000},
		{op: vmcode.OpVADD},
		{op: vmcode.OpLDR, param: rcxSlot},
		{op: vmcode.OpLDI, payload: 1},
		{op: vmcode.OpVMUL},
		{op: vmcode.OpVADD},
		{op: vmcode.OpLDM},
		{op: vmcode.OpSVR, param: raxSlot},
		{op: vmcode.OpVMExit},
	}
	assertWords(t, words, want)
}

func assertWords(t *testing.T, got, want []decodedWord) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d words, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].op != want[i].op || got[i].param != want[i].param {
			t.Fatalf("word %d: got %+v, want %+v", i, got[i], want[i])
		}
		if want[i].op == vmcode.OpLDI && got[i].payload != want[i].payload {
			t.Fatalf("word %d payload: got %#x, want %#x", i, got[i].payload, want[i].payload)
		}
	}
}
