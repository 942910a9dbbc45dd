package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/teris-io/cli"

	"github.com/kungfooman/gamescript/pkg/ast"
	"github.com/kungfooman/gamescript/pkg/compiler"
	"github.com/kungfooman/gamescript/pkg/lexer"
	"github.com/kungfooman/gamescript/pkg/parser"
	"github.com/kungfooman/gamescript/pkg/preprocessor"
	"github.com/kungfooman/gamescript/pkg/vm"
)

var Description = strings.ReplaceAll(`
The gamescript interpreter runs scripts written in the gamescript dialect: it
preprocesses and parses the given entry file, compiles every function down to
bytecode and executes it on the cooperative virtual machine until all script
threads have completed.
`, "\n", " ")

var Gamescript = cli.New(Description).
	WithArg(cli.NewArg("script", "The script (.gsc) file to run").
		WithType(cli.TypeString)).
	WithOption(cli.NewOption("entry", "The function to start in (default 'main')").
		WithType(cli.TypeString)).
	WithOption(cli.NewOption("developer", "Keep and execute /# ... #/ developer blocks").
		WithType(cli.TypeBool)).
	WithOption(cli.NewOption("max-ticks", "Stop after this many scheduler ticks (default 100000)").
		WithType(cli.TypeNumber)).
	WithOption(cli.NewOption("frame-ms", "Sleep this many milliseconds between ticks (default 50)").
		WithType(cli.TypeNumber)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 {
		fmt.Printf("ERROR: No script file provided, use --help\n")
		return -1
	}
	script := args[0]
	entry := options["entry"]
	if entry == "" {
		entry = "main"
	}
	maxTicks := 100000
	if options["max-ticks"] != "" {
		maxTicks, _ = strconv.Atoi(options["max-ticks"])
	}
	frameMs := 50
	if options["frame-ms"] != "" {
		frameMs, _ = strconv.Atoi(options["frame-ms"])
	}

	// The preprocessor resolves includes relative to the directory of the
	// entry script, the script itself is addressed by its base name.
	root := filepath.Dir(script)
	name := strings.TrimSuffix(filepath.Base(script), ".gsc")

	proc := preprocessor.New(preprocessor.DirFilesystem{Root: root}, preprocessor.Options{
		Flags:            preprocessor.IncludeOnce | preprocessor.IgnoreUnknownDirectives,
		IncludeExtension: ".gsc",
		Lexer:            lexer.Options{BackslashIdentifiers: true},
	})
	tokens, err := proc.Process(name)
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'preprocessing' pass: %s\n", err)
		return -1
	}

	_, developer := options["developer"]
	program, err := parser.NewParser(tokens, parser.Options{Developer: developer}).Parse()
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'parsing' pass: %s\n", err)
		return -1
	}

	compiled, err := compiler.NewCompiler().Compile(map[string]*ast.Program{name: program})
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'compiling' pass: %s\n", err)
		return -1
	}

	machine := vm.NewVirtualMachine(compiled)
	if _, err := machine.Spawn(name, entry); err != nil {
		fmt.Printf("ERROR: Unable to start '%s': %s\n", entry, err)
		return -1
	}

	interval := time.Duration(frameMs) * time.Millisecond
	for i := 0; machine.Alive() && i < maxTicks; i++ {
		machine.Tick()
		machine.AdvanceFrame()
		if machine.Alive() && interval > 0 {
			time.Sleep(interval)
		}
	}
	return 0
}

func main() { os.Exit(Gamescript.Run(os.Args, os.Stdout)) }
