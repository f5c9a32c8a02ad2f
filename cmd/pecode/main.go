// Command pecode virtualizes chosen (RVA, size) byte ranges inside a
// Windows PE image into p-code executed by an embedded VM interpreter at
// runtime.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/carved4/pecode/pkg/orchestrate"
	"github.com/carved4/pecode/pkg/pe"
)

const programName = "pecode"

func help() {
	fmt.Println("Usage: " + programName + " --input /path/to/target.exe --vm /path/to/vm.bin --block ADDR SIZE [--block ADDR SIZE ...]")
	fmt.Println("  --input, -i PATH      target PE file to virtualize (required)")
	fmt.Println("  --vm PATH             raw VM interpreter binary, appended verbatim to the new .Ign1 section (required)")
	fmt.Println("  --block, -b ADDR SIZE hex RVA and byte length of a region to virtualize (required, repeatable)")
	fmt.Println("                        ADDR and SIZE must be supplied in pairs; an odd total count is rejected")
	fmt.Println("  --timing-trap         prefix every region's p-code with an anti-tamper timing check (default off)")
}

func main() {
	input, vmPath, timingTrap, regions, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		help()
		os.Exit(0)
	}

	if err := run(input, vmPath, timingTrap, regions); err != nil {
		fmt.Fprintf(os.Stderr, "[[pecode]] %v\n", err)
		os.Exit(1)
	}
}

// parseArgs extracts --block/-b's repeatable ADDR/SIZE token pairs by
// hand, since the standard flag package only binds one value per flag
// occurrence and each --block needs two (a joined "ADDR:SIZE" token
// would work too, but the two-token form reads better on the command
// line). Everything else (--input/-i, --vm, --timing-trap) is handled
// by the standard flag.FlagSet.
func parseArgs(args []string) (input, vmPath string, timingTrap bool, regions []orchestrate.Region, err error) {
	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.Usage = help

	inputFlag := fs.String("input", "", "")
	fs.StringVar(inputFlag, "i", "", "")
	vmFlag := fs.String("vm", "", "")
	timingTrapFlag := fs.Bool("timing-trap", false, "")

	var rest []string
	var blockTokens []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--block", "-b":
			if i+2 >= len(args) {
				return "", "", false, nil, fmt.Errorf("--block requires ADDR and SIZE arguments")
			}
			blockTokens = append(blockTokens, args[i+1], args[i+2])
			i += 2
		default:
			rest = append(rest, args[i])
		}
	}

	if err := fs.Parse(rest); err != nil {
		return "", "", false, nil, err
	}

	if *inputFlag == "" {
		return "", "", false, nil, fmt.Errorf("--input is required")
	}
	if *vmFlag == "" {
		return "", "", false, nil, fmt.Errorf("--vm is required")
	}
	if len(blockTokens) == 0 {
		return "", "", false, nil, fmt.Errorf("at least one --block is required")
	}

	for i := 0; i < len(blockTokens); i += 2 {
		rva, err := strconv.ParseUint(blockTokens[i], 16, 32)
		if err != nil {
			return "", "", false, nil, fmt.Errorf("invalid --block RVA %q: %w", blockTokens[i], err)
		}
		size, err := strconv.ParseUint(blockTokens[i+1], 16, 32)
		if err != nil {
			return "", "", false, nil, fmt.Errorf("invalid --block size %q: %w", blockTokens[i+1], err)
		}
		regions = append(regions, orchestrate.Region{RVA: uint32(rva), Size: uint32(size)})
	}

	return *inputFlag, *vmFlag, *timingTrapFlag, regions, nil
}

func run(inputPath, vmPath string, timingTrap bool, regions []orchestrate.Region) error {
	info, err := os.Stat(inputPath)
	if err != nil {
		return fmt.Errorf("target file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("target file %q is not a regular file", inputPath)
	}

	vmBinary, err := os.ReadFile(vmPath)
	if err != nil {
		return fmt.Errorf("reading vm binary: %w", err)
	}

	editor, err := pe.Load(inputPath, pe.LazyLoad)
	if err != nil {
		return fmt.Errorf("loading target pe: %w", err)
	}
	defer editor.Close()

	vmSection, err := editor.AddSection(".Ign1", uint32(len(vmBinary)))
	if err != nil {
		return fmt.Errorf("adding vm section: %w", err)
	}
	if err := editor.WriteToRegion(vmSection.VirtualAddress, vmBinary); err != nil {
		return fmt.Errorf("writing vm binary to .Ign1: %w", err)
	}

	pcodeCapacity := estimatePcodeCapacity(regions)
	pcodeSection, err := editor.AddSection(".Ign2", pcodeCapacity)
	if err != nil {
		return fmt.Errorf("adding pcode section: %w", err)
	}

	log.Printf("virtualizing %d region(s) in %s", len(regions), inputPath)

	if err := orchestrate.Run(editor, vmSection.VirtualAddress, pcodeSection.VirtualAddress, regions, timingTrap); err != nil {
		return fmt.Errorf("virtualizing regions: %w", err)
	}

	log.Printf("done")
	return nil
}

// estimatePcodeCapacity sizes the appended .Ign2 section generously
// enough that TranslateInstructionBlock's own 24x-per-region expansion
// bound never overflows what was physically appended to the file.
func estimatePcodeCapacity(regions []orchestrate.Region) uint32 {
	const capacityMultiplier = 24
	const minCapacity = 0x1000

	var total uint32
	for _, r := range regions {
		total += r.Size * capacityMultiplier
	}
	if total < minCapacity {
		total = minCapacity
	}
	return total
}
