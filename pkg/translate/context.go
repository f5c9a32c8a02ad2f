// Package translate implements the x86→p-code single-instruction
// translator and the block translator / probing driver that walks a
// native code region and produces p-code (with interleaved raw native
// bytes for hybrid stretches).
package translate

// Context carries the immutable per-region addresses the translator and
// block driver need to compute trampoline offsets and VIP values.
type Context struct {
	// OriginalBlockRVA/Size locate the native bytes being replaced in
	// the target PE.
	OriginalBlockRVA  uint32
	OriginalBlockSize uint32

	// VMBlockRVA/Size locate the embedded VM interpreter blob.
	VMBlockRVA  uint32
	VMBlockSize uint32

	// VCodeBlockRVA is the absolute RVA where this region's p-code will
	// be written, already offset-adjusted by the orchestrator, so
	// VCodeBlockRVA + buffer.CursorPos() is always the VA of the next
	// byte about to be emitted.
	VCodeBlockRVA  uint32
	VCodeBlockSize uint32

	// EmitTimingTrap enables the optional anti-tamper hook in
	// gadgets.go (disabled by default).
	EmitTimingTrap bool
}
