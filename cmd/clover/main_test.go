package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard).With().Logger()
}

func TestParseArgsFlagsAndInputs(t *testing.T) {
	// flag.Parse stops consuming flags at the first non-flag argument
	// (spec.md §6.2's own usage line puts every flag before the input
	// list), so all flags must precede both input paths here.
	opt, err := parseArgs([]string{"-d", "-x", "-s", "foo.clvr", "bar.arly"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if !opt.decompile || !opt.execute || !opt.split || opt.cHeader || opt.verbose {
		t.Errorf("got %+v, flags not parsed as expected", opt)
	}
	want := []string{"foo.clvr", "bar.arly"}
	if len(opt.inputs) != len(want) || opt.inputs[0] != want[0] || opt.inputs[1] != want[1] {
		t.Errorf("got inputs %v, want %v", opt.inputs, want)
	}
}

func TestParseArgsVerboseFlag(t *testing.T) {
	opt, err := parseArgs([]string{"-v", "prog.clvr"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if !opt.verbose {
		t.Error("expected verbose=true")
	}
}

func TestParseArgsUnknownFlag(t *testing.T) {
	if _, err := parseArgs([]string{"-z"}); err == nil {
		t.Error("expected an error for an unrecognized flag")
	}
}

func TestUsageMentionsAllFlags(t *testing.T) {
	u := usage()
	for _, want := range []string{"-d", "-x", "-s", "-h", "-v"} {
		if !strings.Contains(u, want) {
			t.Errorf("usage() = %q, missing %q", u, want)
		}
	}
}

func TestRunWithNoArgsPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(nil, &out, &errOut, discardLogger())
	if code != exitUsage {
		t.Errorf("got exit code %d, want %d", code, exitUsage)
	}
	if !strings.Contains(out.String(), commandName) {
		t.Errorf("expected usage text on stdout, got %q", out.String())
	}
}

func TestRunRejectsUnrecognizedSuffix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.txt")
	if err := os.WriteFile(path, []byte("function int Init() { return 0; }"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	code := run([]string{path}, &out, &errOut, discardLogger())
	if code != exitCompileError {
		t.Errorf("got exit code %d, want %d", code, exitCompileError)
	}
}

func TestRunCompilesAndExecutesValidProgram(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.clvr")
	src := `
command test Init Loop;
function int Init() { return 42; }
function int Loop() { return 0; }
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	code := run([]string{"-d", "-x", path}, &out, &errOut, discardLogger())
	if code != exitSuccess {
		t.Fatalf("got exit code %d, want %d, stderr=%q", code, exitSuccess, errOut.String())
	}
	if !strings.Contains(out.String(), "SetFrame") {
		t.Errorf("expected decompiled listing on stdout, got %q", out.String())
	}
}

func TestRunReportsCompileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.clvr")
	if err := os.WriteFile(path, []byte("function int Init() { return doesNotExist(); }"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	code := run([]string{path}, &out, &errOut, discardLogger())
	if code != exitCompileError {
		t.Errorf("got exit code %d, want %d", code, exitCompileError)
	}
	if errOut.Len() == 0 {
		t.Error("expected a compile error message on stderr")
	}
}

func TestRunSplitWritesSegmentFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.clvr")
	src := `
command test Init Loop;
function int Init() { return 1; }
function int Loop() { return 0; }
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	var out, errOut bytes.Buffer
	code := run([]string{"-s", "prog.clvr"}, &out, &errOut, discardLogger())
	if code != exitSuccess {
		t.Fatalf("got exit code %d, want %d, stderr=%q", code, exitSuccess, errOut.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "prog00.arlx")); err != nil {
		t.Errorf("expected a split segment file, got %v", err)
	}
}

func TestRunVerboseLogsTraceEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.clvr")
	src := `
command test Init Loop;
function int Init() { return 1; }
function int Loop() { return 0; }
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut, logBuf bytes.Buffer
	logger := zerolog.New(&logBuf).Level(zerolog.TraceLevel).With().Logger()
	code := run([]string{"-d", "-x", "-v", path}, &out, &errOut, logger)
	if code != exitSuccess {
		t.Fatalf("got exit code %d, want %d, stderr=%q", code, exitSuccess, errOut.String())
	}
	if !strings.Contains(logBuf.String(), "compiled command test") {
		t.Errorf("expected a trace event for the compiled command declaration, got %q", logBuf.String())
	}
	if !strings.Contains(logBuf.String(), "compiled function Init") {
		t.Errorf("expected a trace event for the compiled function declaration, got %q", logBuf.String())
	}
	if !strings.Contains(logBuf.String(), "executing instruction block") {
		t.Errorf("expected a trace event for the executed command, got %q", logBuf.String())
	}
}

func TestRunWithoutVerboseOmitsTraceEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.clvr")
	src := `
command test Init Loop;
function int Init() { return 1; }
function int Loop() { return 0; }
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut, logBuf bytes.Buffer
	logger := zerolog.New(&logBuf).Level(zerolog.TraceLevel).With().Logger()
	code := run([]string{"-d", "-x", path}, &out, &errOut, logger)
	if code != exitSuccess {
		t.Fatalf("got exit code %d, want %d, stderr=%q", code, exitSuccess, errOut.String())
	}
	if strings.Contains(logBuf.String(), "compiled command") || strings.Contains(logBuf.String(), "executing instruction block") {
		t.Errorf("expected no trace events without -v, got %q", logBuf.String())
	}
}

func TestRunCHeaderWritesHeaderFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.clvr")
	src := `
command test Init Loop;
function int Init() { return 1; }
function int Loop() { return 0; }
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	var out, errOut bytes.Buffer
	code := run([]string{"-h", "prog.clvr"}, &out, &errOut, discardLogger())
	if code != exitSuccess {
		t.Fatalf("got exit code %d, want %d, stderr=%q", code, exitSuccess, errOut.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, "prog.h"))
	if err != nil {
		t.Fatalf("expected a C header file: %v", err)
	}
	if !strings.Contains(string(data), "EEPROM_Upload_prog") {
		t.Errorf("got %q, missing array declaration", string(data))
	}
}
