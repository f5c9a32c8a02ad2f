package main

import (
	"testing"

	"github.com/carved4/pecode/pkg/orchestrate"
)

func TestParseArgsHappyPath(t *testing.T) {
	input, vmPath, timingTrap, regions, err := parseArgs([]string{
		"--input", "target.exe",
		"--vm", "vm.bin",
		"-b", "1000", "3",
		"--block", "2000", "10",
	})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if input != "target.exe" {
		t.Fatalf("input = %q", input)
	}
	if vmPath != "vm.bin" {
		t.Fatalf("vmPath = %q", vmPath)
	}
	if timingTrap {
		t.Fatalf("expected timing trap to default to false")
	}
	if len(regions) != 2 {
		t.Fatalf("got %d regions, want 2", len(regions))
	}
	if regions[0].RVA != 0x1000 || regions[0].Size != 0x3 {
		t.Fatalf("region 0 = %+v", regions[0])
	}
	if regions[1].RVA != 0x2000 || regions[1].Size != 0x10 {
		t.Fatalf("region 1 = %+v", regions[1])
	}
}

func TestParseArgsTimingTrapFlag(t *testing.T) {
	_, _, timingTrap, _, err := parseArgs([]string{
		"--input", "target.exe",
		"--vm", "vm.bin",
		"-b", "1000", "3",
		"--timing-trap",
	})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if !timingTrap {
		t.Fatalf("expected timing trap to be enabled")
	}
}

func TestParseArgsRejectsOddBlockTokenCount(t *testing.T) {
	_, _, _, _, err := parseArgs([]string{
		"--input", "target.exe",
		"--vm", "vm.bin",
		"-b", "1000",
	})
	if err == nil {
		t.Fatalf("expected error for truncated --block pair")
	}
}

func TestParseArgsRequiresInput(t *testing.T) {
	_, _, _, _, err := parseArgs([]string{
		"--vm", "vm.bin",
		"-b", "1000", "3",
	})
	if err == nil {
		t.Fatalf("expected error for missing --input")
	}
}

func TestParseArgsRequiresVM(t *testing.T) {
	_, _, _, _, err := parseArgs([]string{
		"--input", "target.exe",
		"-b", "1000", "3",
	})
	if err == nil {
		t.Fatalf("expected error for missing --vm")
	}
}

func TestParseArgsRequiresAtLeastOneBlock(t *testing.T) {
	_, _, _, _, err := parseArgs([]string{
		"--input", "target.exe",
		"--vm", "vm.bin",
	})
	if err == nil {
		t.Fatalf("expected error for missing --block")
	}
}

func TestParseArgsRejectsNonHexBlockToken(t *testing.T) {
	_, _, _, _, err := parseArgs([]string{
		"--input", "target.exe",
		"--vm", "vm.bin",
		"-b", "not-hex", "3",
	})
	if err == nil {
		t.Fatalf("expected error for non-hex --block RVA")
	}
}

func TestEstimatePcodeCapacityHonorsMinimum(t *testing.T) {
	got := estimatePcodeCapacity(nil)
	if got != 0x1000 {
		t.Fatalf("got %#x, want minimum 0x1000", got)
	}
}

func TestEstimatePcodeCapacityScalesWithRegions(t *testing.T) {
	regions := []orchestrate.Region{{RVA: 0x1000, Size: 0x1000}}
	got := estimatePcodeCapacity(regions)
	want := uint32(0x1000 * 24)
	if got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}
