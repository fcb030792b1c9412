// Command lox is the interpreter's entry point: run a script file, or
// drop into an interactive REPL when no file is given.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"loxvm/internal/persist"
	"loxvm/internal/vm"
)

const version = "v0.1.0"

// Exit codes follow the book's convention: 64 is EX_USAGE, 65 is
// EX_DATAERR (compile error), 70 is EX_SOFTWARE (runtime error).
const (
	exitUsage        = 64
	exitCompileError = 65
	exitRuntimeError = 70
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "Recovered from panic:", r)
			debug.PrintStack()
			os.Exit(exitRuntimeError)
		}
	}()

	disassemble := flag.Bool("disassemble", false, "Print bytecode disassembly before executing")
	showVersion := flag.Bool("version", false, "Show version information")
	session := flag.String("session", "", "Session name for persisted globals (default: a random id)")
	backendName := flag.String("persist", "memory", "Globals persistence backend: memory, sqlite, dynamodb")
	sqlitePath := flag.String("persist-sqlite-path", "lox-session.db", "SQLite database path when --persist=sqlite")
	dynamoTable := flag.String("persist-dynamodb-table", "lox_globals", "DynamoDB table name when --persist=dynamodb")
	dynamoRegion := flag.String("persist-dynamodb-region", "us-east-1", "AWS region when --persist=dynamodb")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lox [options] [script]\n\nOptions:\n")
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  --%s\n\t%s\n", f.Name, f.Usage)
		})
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("lox %s\n", version)
		return
	}

	backend, err := openBackend(*backendName, *sqlitePath, *dynamoTable, *dynamoRegion)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
	defer backend.Close()

	sessionName := *session
	if sessionName == "" {
		sessionName = uuid.New().String()
	}

	args := flag.Args()
	if len(args) > 1 {
		flag.Usage()
		os.Exit(exitUsage)
	}

	if len(args) == 1 {
		runFile(args[0], *disassemble, backend, sessionName)
		return
	}

	repl(*disassemble, backend, sessionName)
}

func openBackend(kind, sqlitePath, dynamoTable, dynamoRegion string) (persist.Backend, error) {
	switch kind {
	case "", "memory":
		return persist.Memory{}, nil
	case "sqlite":
		return persist.OpenSQLite(sqlitePath)
	case "dynamodb":
		return persist.OpenDynamoDB(context.Background(), dynamoRegion, dynamoTable)
	default:
		return nil, fmt.Errorf("unknown --persist backend %q", kind)
	}
}

func runFile(path string, disassemble bool, backend persist.Backend, session string) {
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %s\n", err)
		os.Exit(exitUsage)
	}

	machine := vm.New(os.Stdout, os.Stderr)
	loadGlobals(machine, backend, session)

	ch, ok := machine.Compile(string(content))
	if !ok {
		saveGlobals(machine, backend, session)
		os.Exit(exitCompileError)
	}
	if disassemble {
		ch.Disassemble(os.Stdout, path)
	}

	result := machine.InterpretChunk(ch)
	saveGlobals(machine, backend, session)

	if result == vm.InterpretRuntimeError {
		os.Exit(exitRuntimeError)
	}
}

func repl(disassemble bool, backend persist.Backend, session string) {
	interactive := isatty.IsTerminal(os.Stdin.Fd())

	machine := vm.New(os.Stdout, os.Stderr)
	n := loadGlobals(machine, backend, session)

	if interactive {
		fmt.Printf("lox %s\n", version)
		if n > 0 {
			fmt.Printf("loaded %d globals, %s\n", n, humanize.Bytes(uint64(n*8)))
		}
		fmt.Println("Type Ctrl-D to quit.")
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if line == ":globals" {
			printGlobals(machine)
			continue
		}

		ch, ok := machine.Compile(line)
		if !ok {
			continue
		}
		if disassemble {
			ch.Disassemble(os.Stdout, "repl")
		}
		machine.InterpretChunk(ch)
	}

	saveGlobals(machine, backend, session)
}

// printGlobals backs the REPL's :globals debug command: a sorted
// listing of every currently-defined global name, for introspection
// only.
func printGlobals(machine *vm.VM) {
	byName := make(map[string]string, 8)
	for _, k := range machine.Globals().Keys() {
		byName[k.Chars] = k.Chars
	}

	names := maps.Keys(byName)
	slices.Sort(names)
	for _, name := range names {
		fmt.Println(name)
	}
}

func loadGlobals(machine *vm.VM, backend persist.Backend, session string) int {
	globals, err := backend.Load(session, machine.Intern)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load persisted globals: %s\n", err)
		return 0
	}
	persist.Restore(machine.Globals(), globals, machine.Intern)
	return len(globals)
}

func saveGlobals(machine *vm.VM, backend persist.Backend, session string) {
	globals := persist.Snapshot(machine.Globals())
	if err := backend.Save(session, globals); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to persist globals: %s\n", err)
	}
}
