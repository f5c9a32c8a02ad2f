// Package orchestrate drives the per-region load→translate→patch flow
// across every (RVA, size) region supplied on the command line, running
// them in order and accumulating p-code section offsets monotonically
// across regions.
package orchestrate

import (
	"fmt"

	"github.com/carved4/pecode/pkg/buffer"
	"github.com/carved4/pecode/pkg/emit"
	"github.com/carved4/pecode/pkg/pe"
	"github.com/carved4/pecode/pkg/translate"
	"github.com/carved4/pecode/pkg/vmcode"
)

// Region is one (RVA, size) pair supplied on the command line to
// virtualize.
type Region struct {
	RVA  uint32
	Size uint32
}

// Run virtualizes every region in regions, in the order given, against
// editor's already-loaded PE. vmSectionRVA/pcodeSectionRVA are the RVAs
// of the freshly appended `.Ign1`/`.Ign2` sections; pcodeSectionRVA is
// advanced across regions by each region's emitted p-code size.
// emitTimingTrap enables an anti-tamper timing check at the start of
// every region's p-code (see translate.Context.EmitTimingTrap).
func Run(editor *pe.Editor, vmSectionRVA uint32, pcodeSectionRVA uint32, regions []Region, emitTimingTrap bool) error {
	vcodeOffset := uint32(0)

	for i, region := range regions {
		if err := runRegion(editor, vmSectionRVA, pcodeSectionRVA, &vcodeOffset, region, emitTimingTrap); err != nil {
			return fmt.Errorf("[[orchestrate]] region %d (rva=%#x size=%d): %w", i, region.RVA, region.Size, err)
		}
	}
	return nil
}

func runRegion(editor *pe.Editor, vmSectionRVA, pcodeSectionRVA uint32, vcodeOffset *uint32, region Region, emitTimingTrap bool) error {
	native, err := editor.LoadRegion(region.RVA, int(region.Size))
	if err != nil {
		return fmt.Errorf("loading region: %w", err)
	}

	ctx := &translate.Context{
		OriginalBlockRVA:  region.RVA,
		OriginalBlockSize: region.Size,
		VMBlockRVA:        vmSectionRVA,
		VCodeBlockRVA:     pcodeSectionRVA + *vcodeOffset,
		EmitTimingTrap:    emitTimingTrap,
	}

	pcode, err := translate.TranslateInstructionBlock(native, ctx)
	if err != nil {
		return fmt.Errorf("translating block: %w", err)
	}

	if err := editor.WriteToRegionPos(ctx.VCodeBlockRVA, pcode.Bytes(), pcode.CursorPos()); err != nil {
		return fmt.Errorf("writing p-code to vcode section: %w", err)
	}
	*vcodeOffset += uint32(pcode.CursorPos())

	sectionOffsetRaw := ctx.VCodeBlockRVA - vmSectionRVA
	if sectionOffsetRaw > 0xFFFF {
		return fmt.Errorf("section offset %#x exceeds 16-bit VIP field range", sectionOffsetRaw)
	}

	key, err := vmcode.GenerateKey()
	if err != nil {
		return fmt.Errorf("generating vip key: %w", err)
	}
	encodedVIP := vmcode.EncodeVIPEntry(sectionOffsetRaw, key)

	patched, err := patchTrampoline(native, region, vmSectionRVA, encodedVIP)
	if err != nil {
		return fmt.Errorf("patching trampoline: %w", err)
	}

	if err := editor.WriteToRegion(region.RVA, patched); err != nil {
		return fmt.Errorf("writing patched region: %w", err)
	}

	return nil
}

// patchTrampoline overwrites the native buffer in place with
// `push encoded_vip; call vm_entry; nop-fill`.
func patchTrampoline(native []byte, region Region, vmSectionRVA uint32, encodedVIP uint32) ([]byte, error) {
	scratch, err := buffer.Allocate(10)
	if err != nil {
		return nil, fmt.Errorf("allocating trampoline scratch buffer: %w", err)
	}

	if err := emit.Push32(scratch, encodedVIP); err != nil {
		return nil, fmt.Errorf("emitting push imm32 for patched region: %w", err)
	}

	callOffset := int32(vmSectionRVA) - int32(region.RVA+uint32(scratch.CursorPos()))
	if err := emit.NearCall(scratch, callOffset); err != nil {
		return nil, fmt.Errorf("emitting call rel32 for patched region: %w", err)
	}

	out := scratch.Written()
	if len(out) > len(native) {
		return nil, fmt.Errorf("trampoline (%d bytes) does not fit in region (%d bytes)", len(out), len(native))
	}

	patched := make([]byte, len(native))
	copy(patched, out)
	for i := len(out); i < len(patched); i++ {
		patched[i] = 0x90 // NOP fill
	}
	return patched, nil
}
