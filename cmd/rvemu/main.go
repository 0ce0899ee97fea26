// Command rvemu is the driver for the RV64GC user-mode emulator: it loads
// an ELF binary, wires memory/CPU/syscalls/profiler into a pkg/emulator
// and runs, disassembles, or interactively steps it, mirroring the
// teacher's cmd/vm and cmd/interp but rebuilt on cobra per the rest of the
// example pack's CLI front ends (ajroetker-goat, oisee/z80-optimizer,
// ja7ad/consumption).
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rv64emu/rv64emu/internal/config"
	"github.com/rv64emu/rv64emu/pkg/disasm"
	"github.com/rv64emu/rv64emu/pkg/emulator"
	"github.com/rv64emu/rv64emu/pkg/inst"
	"github.com/rv64emu/rv64emu/pkg/jitstub"
	"github.com/rv64emu/rv64emu/pkg/timetravel"
)

var (
	flagStdin       string
	flagDisassemble bool
	flagInteractive bool
	flagJIT         bool
	flagLabel       string
	flagConfig      string
	flagVerbose     bool

	log = logrus.New()
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rvemu <binary>",
		Short: "user-mode RV64GC emulator",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	root.PersistentFlags().StringVar(&flagStdin, "stdin", "", "file whose contents the guest reads from fd 0")
	root.PersistentFlags().BoolVar(&flagDisassemble, "disassemble", false, "print decoded instructions instead of running")
	root.PersistentFlags().BoolVar(&flagInteractive, "interactive", false, "pause for input between instructions")
	root.PersistentFlags().BoolVar(&flagJIT, "jit", false, "drive execution through pkg/jitstub's block cache instead of stepping one instruction at a time")
	root.PersistentFlags().StringVar(&flagLabel, "label", "", "symbol name bounding the profiler's active window")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "TOML file overriding profiler constants and the synthetic library table")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "raise log level to debug")

	root.AddCommand(newDisasmCmd(), newInteractiveCmd())
	return root
}

func setupLogging() {
	log.SetFormatter(&logrus.TextFormatter{})
	if flagVerbose {
		log.SetLevel(logrus.DebugLevel)
	}
}

func loadConfig() (*config.Config, error) {
	if flagConfig == "" {
		return nil, nil
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	cfg.ApplyProfiler()
	if err := cfg.ApplyLibraries(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildEmulator(path string) (*emulator.Emulator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	e, err := emulator.New(raw)
	if err != nil {
		return nil, err
	}
	if flagStdin != "" {
		data, err := os.ReadFile(flagStdin)
		if err != nil {
			return nil, err
		}
		e.SetStdin(data)
	}
	if flagLabel != "" {
		if err := e.ProfileLabel(flagLabel); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	setupLogging()
	if _, err := loadConfig(); err != nil {
		return err
	}

	e, err := buildEmulator(args[0])
	if err != nil {
		return err
	}

	if flagDisassemble {
		return disassemble(e)
	}
	if flagInteractive {
		return runInteractive(e)
	}

	var runErr error
	if flagJIT {
		runErr = jitstub.New(e.CPU).Run()
	} else {
		runErr = e.Run()
	}

	io.WriteString(os.Stdout, string(e.Stdout()))
	io.WriteString(os.Stderr, string(e.Stderr()))

	if !e.Exited() {
		log.WithError(runErr).WithField("pc", fmt.Sprintf("0x%x", e.CPU.PC)).Error("emulator faulted")
		return runErr
	}
	os.Exit(e.ExitCode())
	return nil
}

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <binary>",
		Short: "decode and print the guest's instructions without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			e, err := buildEmulator(args[0])
			if err != nil {
				return err
			}
			return disassemble(e)
		},
	}
}

// disassemble decodes forward from the entry PC until a fetch goes out of
// mapped memory or an EBREAK has been printed, printing each instruction alongside its nearest symbol;
// this is the same fetch shape pkg/cpu.Step and pkg/jitstub.discover use,
// kept independent of both since this path never executes anything.
func disassemble(e *emulator.Emulator) error {
	pc := e.CPU.PC
	for {
		lo, err := e.Mem.LoadU16(pc)
		if err != nil {
			return nil
		}
		var in inst.Inst
		var length uint64
		if lo&0b11 == 0b11 {
			hi, err := e.Mem.LoadU16(pc + 2)
			if err != nil {
				return nil
			}
			in = inst.Decode32(uint32(lo) | uint32(hi)<<16)
			length = 4
		} else {
			in = inst.Decode16(lo)
			length = 2
		}

		label := ""
		if sym, ok := e.Symbols.Nearest(pc); ok && sym.Addr == pc {
			label = sym.Name + ":"
		}
		fmt.Printf("%-20s 0x%08x  %s\n", label, pc, disasm.Disassemble(pc, in))

		if in.Op == inst.EBREAK {
			return nil
		}
		pc += length
	}
}

func newInteractiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive <binary>",
		Short: "step the guest one instruction at a time under the reverse debugger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			if _, err := loadConfig(); err != nil {
				return err
			}
			e, err := buildEmulator(args[0])
			if err != nil {
				return err
			}
			return runInteractive(e)
		},
	}
}

// runInteractive drives the guest under pkg/timetravel, pausing before
// every instruction the way the teacher's -d flag does (cmd/interp/main.go:
// fmt.Scanln()), but accepting "b <n>" to rewind n instructions first.
func runInteractive(e *emulator.Emulator) error {
	tt := timetravel.New(e, log.WithField("component", "timetravel"))
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("rvemu> pc=0x%x inst=%d (enter to step, 'b <n>' to rewind, 'q' to quit) ", tt.Current.CPU.PC, tt.Current.CPU.InstCount)
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			line = ""
		}
		line = strings.TrimSpace(line)

		amount := int32(1)
		if line == "q" {
			break
		}
		if len(line) > 2 && line[:2] == "b " {
			fmt.Sscanf(line[2:], "%d", &amount)
			amount = -amount
		}

		code, exited := tt.Step(amount)
		if exited {
			io.WriteString(os.Stdout, string(tt.Current.Stdout()))
			os.Exit(code)
		}
	}
	return nil
}
