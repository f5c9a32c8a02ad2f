package translate

import (
	"github.com/carved4/pecode/pkg/buffer"
	"github.com/carved4/pecode/pkg/vmcode"
)

// kUserSharedDataInterruptTime is the fixed address of the interrupt
// time counter inside KUSER_SHARED_DATA.
const kUserSharedDataInterruptTime = 0x7FFE0008

// EmitTimingTrap emits a small anti-tamper sequence that reads the
// KUSER_SHARED_DATA interrupt time twice and subtracts: a near-zero
// elapsed value means no debugger/single-step interference occurred
// between the reads. It exercises only opcodes this package already
// defines (LDI/LDM/VSUB) and is off unless Context.EmitTimingTrap is
// set.
func EmitTimingTrap(c *buffer.Cursor) error {
	if err := loadImmediate(c, kUserSharedDataInterruptTime); err != nil {
		return err
	}
	if err := emitWord(c, vmcode.OpLDM, vmcode.ParamNone); err != nil {
		return err
	}
	if err := loadImmediate(c, kUserSharedDataInterruptTime); err != nil {
		return err
	}
	if err := emitWord(c, vmcode.OpLDM, vmcode.ParamNone); err != nil {
		return err
	}
	return emitWord(c, vmcode.OpVSUB, vmcode.ParamNone)
}
