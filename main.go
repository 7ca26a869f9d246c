package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/2000gmod/RVM/vm"
)

var (
	debugFlag    = flag.Bool("debug", false, "Enter single-step debug mode")
	assembleFlag = flag.Bool("assemble", false, "Treat input files as source text and assemble only, writing the module container to stdout")
	entryFlag    = flag.String("entry", "", "Name of the function to begin execution at (default: main, or the config file's entry)")
	stackFlag    = flag.Int("stack", 0, "Operand stack capacity in words (default: 1MB worth of words)")
	localsFlag   = flag.Int("locals", 0, "Initial locals backing capacity")
	verboseFlag  = flag.Bool("verbose", false, "Emit info-level diagnostics while loading and running")
	configFlag   = flag.String("config", "", "Path to an optional TOML configuration file")
	sourceFlag   = flag.Bool("source", false, "Treat input files as assembler source rather than a serialized module")
)

func main() {
	flag.Parse()

	// os.Args' remainder (after flag.Parse consumes recognized flags)
	// is the positional file-argument list, the same trick the
	// teacher's old CLI uses so additional flags can be added later
	// without breaking positional parsing.
	files := os.Args[len(os.Args)-flag.NArg():]
	if len(files) == 0 {
		fmt.Println("Usage: [flags] <file 1> [file 2] ...")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := vm.LoadFileConfig(*configFlag)
	if err != nil {
		vm.Log.Fatalw("failed loading config", "error", err)
	}
	vm.SetVerbose(*verboseFlag || cfg.Verbose)

	opts := cfg.ToOptions()
	if *entryFlag != "" {
		opts.EntryName = *entryFlag
	}
	if *stackFlag > 0 {
		opts.StackSize = *stackFlag
	}
	if *localsFlag > 0 {
		opts.LocalsHint = *localsFlag
	}

	mod, err := loadModule(files)
	if err != nil {
		vm.Log.Fatalw("failed loading module", "error", err)
	}

	if *assembleFlag {
		os.Stdout.Write(vm.Serialize(mod))
		return
	}

	machine := vm.NewVirtualMachine(opts)
	machine.LoadBytecode(mod)

	if *debugFlag {
		machine.RunDebug(opts.EntryName)
		return
	}

	machine.Run(opts.EntryName)
	vm.FlushOutput()
	if err := machine.Err(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadModule reads and concatenates every input file, either
// assembling them as source text or deserializing them as a module
// container, per -source (or -assemble, which always reads source).
func loadModule(files []string) (vm.Module, error) {
	var mod vm.Module
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}

		var unit vm.Module
		if *sourceFlag || *assembleFlag {
			unit, err = vm.AssembleSource(string(data))
		} else {
			unit, err = vm.Deserialize(data)
		}
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		mod = append(mod, unit...)
	}
	return mod, nil
}
