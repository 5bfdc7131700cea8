package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	lua "github.com/yuin/gopher-lua"
)

func main() {
	if err := runCLI(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type command struct {
	name    string
	args    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"run", "[flags] <script.lua> [args...]", "run a script against the published classes", runCommand},
	{"classes", "[flags] [script.lua...]", "run scripts, then list published classes", classesCommand},
	{"repl", "[flags]", "start an interactive Lua session", replCommand},
	{"check", "[flags] <script.lua...>", "report scripts that clobber or miss class globals", checkCommand},
}

func runCLI(args []string) error {
	if len(args) < 2 {
		return usageError()
	}
	switch args[1] {
	case "help", "-h", "--help":
		printUsage(os.Stderr)
		return nil
	}
	for _, cmd := range commands {
		if cmd.name == args[1] {
			return cmd.run(args[2:])
		}
	}
	return usageError()
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	opts := bindCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	remaining := fs.Args()
	if len(remaining) == 0 {
		return errors.New("awesome run: script path required")
	}
	scriptPath, err := filepath.Abs(remaining[0])
	if err != nil {
		return fmt.Errorf("resolve script path: %w", err)
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	config, err := opts.resolve(fs)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	s, err := openSession(ctx, config)
	if err != nil {
		return err
	}
	defer s.Close()

	s.runtime.State().SetGlobal("arg", scriptArgs(s.runtime.State(), remaining))
	if err := s.runtime.DoFile(ctx, scriptPath); err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	return nil
}

// scriptArgs mirrors the standalone interpreter's arg table: arg[0] is the
// script, arg[1..n] its arguments.
func scriptArgs(L *lua.LState, args []string) *lua.LTable {
	tbl := L.NewTable()
	for i, value := range args {
		tbl.RawSetInt(i, lua.LString(value))
	}
	return tbl
}

func usageError() error {
	printUsage(os.Stderr)
	return errors.New("invalid command")
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s <command> [flags]\n\nCommands:\n", filepath.Base(os.Args[0]))
	tw := tabwriter.NewWriter(w, 0, 4, 3, ' ', 0)
	for _, cmd := range commands {
		fmt.Fprintf(tw, "  %s %s\t%s\n", cmd.name, cmd.args, cmd.summary)
	}
	_ = tw.Flush()

	fmt.Fprintln(w, "\nFlags:")
	fs := flag.NewFlagSet("awesome", flag.ContinueOnError)
	bindCommonFlags(fs)
	fs.String("format", "table", "classes only: table or metrics")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

type flagErrorSink struct{}

func (flagErrorSink) Write(p []byte) (int, error) {
	return len(p), nil
}

type pathList []string

func (l *pathList) String() string {
	return strings.Join(*l, string(os.PathListSeparator))
}

func (l *pathList) Set(value string) error {
	*l = append(*l, value)
	return nil
}
