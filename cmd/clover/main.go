// Command clover is the driver for the Clover/Arly compiler, decompiler,
// and test harness (spec.md §6.2). Its process-entry/testable-_main
// split, zerolog console writer, and posener/complete/v2 wiring follow
// inoxlang/inox's cmd/inox/main.go and cli_completion.go; everything
// below that split is authored directly from spec.md §6.2's small CLI
// surface, which has no subcommands, only flags.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/clover-lang/clover/internal/compiler"
	"github.com/clover-lang/clover/internal/decompile"
	"github.com/clover-lang/clover/internal/image"
	"github.com/clover-lang/clover/internal/native"
	"github.com/clover-lang/clover/internal/vm"
)

const commandName = "clover"

// Exit codes, spec.md §6.2: "Exit code 0 on usage messages, −1 on
// compile error, 1 on success."
const (
	exitUsage        = 0
	exitCompileError = -1
	exitSuccess      = 1
)

func main() {
	completer.Complete(commandName)

	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:     os.Stderr,
		NoColor: !term.IsTerminal(int(os.Stderr.Fd())),
	}).With().Timestamp().Logger()

	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, logger))
}

type options struct {
	decompile bool
	execute   bool
	split     bool
	cHeader   bool
	verbose   bool
	inputs    []string
}

// parseArgs follows the same flag.NewFlagSet shape every one of
// cmd/inox's subcommands uses (run_subcmd.go, daemon_subcmd.go, ...):
// a fresh FlagSet per invocation, BoolVar registrations, then the
// input paths taken from whatever Parse leaves in Args(). spec.md
// §6.2's own usage line orders flags before inputs
// (`clover [-d] [-x] [-s] [-h] <input>...`), which is exactly the
// order flag.Parse requires — it stops consuming flags at the first
// non-flag argument.
func parseArgs(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet(commandName, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&o.decompile, "d", false, "decompile the image to an assembly-like listing")
	fs.BoolVar(&o.execute, "x", false, "execute a test command list after compilation")
	fs.BoolVar(&o.split, "s", false, "split the image into .arlx EEPROM segment files")
	fs.BoolVar(&o.cHeader, "h", false, "emit a C header with the image bytes")
	fs.BoolVar(&o.verbose, "v", false, "trace-level logging of compiled declarations and executed commands")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.inputs = fs.Args()
	return o, nil
}

func run(args []string, outW io.Writer, errW io.Writer, logger zerolog.Logger) int {
	if len(args) == 0 {
		fmt.Fprintln(outW, usage())
		return exitUsage
	}

	opt, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(errW, err)
		fmt.Fprintln(outW, usage())
		return exitUsage
	}
	if len(opt.inputs) == 0 {
		fmt.Fprintln(outW, usage())
		return exitUsage
	}

	for _, path := range opt.inputs {
		if !processFile(path, opt, outW, errW, logger) {
			return exitCompileError
		}
	}
	return exitSuccess
}

func usage() string {
	return commandName + " [-d] [-x] [-s] [-h] [-v] <input>..."
}

// processFile accepts the ".clvr" and ".arly" suffixes, compiles both with
// the Clover frontend (there is no separate Arly grammar), and runs whichever of -d/-x/-s/-h
// were requested against the resulting image; -v raises both the
// compile and execution steps to trace-level logging.
func processFile(path string, opt options, outW, errW io.Writer, logger zerolog.Logger) bool {
	src, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to read input")
		return false
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".clvr", ".arly":
		// Both suffixes compile through the same frontend today; a
		// distinct Arly grammar would be selected here by extension.
	default:
		logger.Error().Str("path", path).Msg("unrecognized input suffix, expected .clvr or .arly")
		return false
	}

	copt := compiler.DefaultOptions()
	if opt.verbose {
		copt.Trace = traceWriter{logger}
	}
	img, cerr := compiler.Compile(string(src), copt)
	if cerr != nil {
		fmt.Fprintf(errW, "%s: %v\n", path, cerr)
		return false
	}
	logger.Info().Str("path", path).Msg("compiled")

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if opt.decompile {
		listing := decompile.Decompile(img)
		fmt.Fprint(outW, listing.String())
	}

	if opt.split {
		if err := writeSegments(img, base); err != nil {
			logger.Error().Err(err).Msg("failed to split image")
			return false
		}
	}

	if opt.cHeader {
		data, err := img.Encode()
		if err != nil {
			logger.Error().Err(err).Msg("failed to encode image")
			return false
		}
		header := image.EmitCHeader(base, data)
		outPath := base + ".h"
		if err := os.WriteFile(outPath, []byte(header), 0o644); err != nil {
			logger.Error().Err(err).Str("path", outPath).Msg("failed to write C header")
			return false
		}
	}

	if opt.execute {
		if err := executeTestCommands(img, outW, logger, opt.verbose); err != nil {
			logger.Error().Err(err).Msg("execution failed")
			return false
		}
	}

	return true
}

// traceWriter adapts compiler.Options.Trace's plain io.Writer to
// zerolog: one Trace()-level event per line the compiler writes. It is
// installed only when -v is set, so the "per compiled declaration" events
// exist only in -v runs; the logger's level is left unchanged.
type traceWriter struct {
	logger zerolog.Logger
}

func (w traceWriter) Write(p []byte) (int, error) {
	w.logger.Trace().Msg(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func writeSegments(img *image.Image, base string) error {
	data, err := img.Encode()
	if err != nil {
		return err
	}
	segments := image.Split(data)
	for i, seg := range segments {
		name := fmt.Sprintf("%s%02d.arlx", base, i)
		if err := os.WriteFile(name, image.EncodeSegmentFile(seg), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// executeTestCommands runs every command in the image's command table
// through Init() once, a host-defined smoke test (spec.md §6.2: "-x
// execute a test command list after compilation (host-defined)"). With
// verbose set, each command's Init() call is additionally logged at
// trace level before it runs, one event per executed instruction block.
func executeTestCommands(img *image.Image, outW io.Writer, logger zerolog.Logger, verbose bool) error {
	data, err := img.Encode()
	if err != nil {
		return err
	}
	host := vm.NewByteHost(data, func(s string) {
		fmt.Fprintln(outW, s)
	})
	m := vm.New(host, []vm.NativeModule{native.NewCore(nil)})

	for _, cmd := range img.Commands {
		if verbose {
			logger.Trace().Str("command", cmd.Name).Msg("executing instruction block")
		}
		result, err := m.Init(cmd.Name, make([]byte, cmd.ParamBytes))
		if err != nil {
			logger.Error().Err(err).Str("command", cmd.Name).Msg("init failed")
			return err
		}
		logger.Info().Str("command", cmd.Name).Int32("result", result).Msg("ran command")
	}
	return nil
}
