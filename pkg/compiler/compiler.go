package compiler

import (
	"fmt"
	"sort"

	"github.com/kungfooman/gamescript/pkg/ast"
	"github.com/kungfooman/gamescript/pkg/vm"
)

// ----------------------------------------------------------------------------
// Compiler

// This section defines the Compiler lowering parsed files to bytecode.
//
// The compiler walks each function body in DFS order (much like a recursive
// descent parser but for lowering) and spits out the linear instruction
// vector plus the label table the machine consumes. There are no
// optimization passes, the emitted code mirrors the tree shape one to one.
type Compiler struct{}

func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile lowers a set of parsed files (keyed by their script path) into
// the machine's compiled form. Files are processed in sorted order so the
// output is reproducible.
func (c *Compiler) Compile(files map[string]*ast.Program) (vm.CompiledFiles, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	compiled := vm.CompiledFiles{}
	for _, name := range names {
		file := &vm.CompiledFile{Name: name, Functions: map[string]*vm.CompiledFunction{}}
		for _, decl := range files[name].Body {
			fdecl, ok := decl.(*ast.FunctionDeclaration)
			if !ok {
				continue
			}
			fn, err := c.compileFunction(name, fdecl)
			if err != nil {
				return nil, fmt.Errorf("error compiling function '%s' in '%s': %w", fdecl.Name, name, err)
			}
			file.Functions[fdecl.Name] = fn
		}
		compiled[name] = file
	}
	return compiled, nil
}

func (c *Compiler) compileFunction(file string, decl *ast.FunctionDeclaration) (*vm.CompiledFunction, error) {
	fc := &funcCompiler{file: file}
	for _, stmt := range decl.Body.Body {
		if err := fc.statement(stmt); err != nil {
			return nil, err
		}
	}
	// Implicit epilogue, reached when control falls off the end.
	fc.emit(&vm.PushUndefined{})
	fc.emit(&vm.Ret{})

	params := make([]string, len(decl.Parameters))
	for i, p := range decl.Parameters {
		params[i] = p.Name
	}
	return &vm.CompiledFunction{
		Name:         decl.Name,
		File:         file,
		Parameters:   params,
		Instructions: fc.instructions,
		Labels:       fc.labelTable(),
	}, nil
}

// ----------------------------------------------------------------------------
// Per-function state

// funcCompiler accumulates the instruction vector of one function together
// with the label allocator and the break/continue targets of the enclosing
// control structures.
type funcCompiler struct {
	file         string
	instructions []vm.Instruction
	nextLabel    int
	nextTemp     int
	breaks       []*vm.Label
	continues    []*vm.Label
}

func (fc *funcCompiler) emit(ins vm.Instruction) {
	fc.instructions = append(fc.instructions, ins)
}

func (fc *funcCompiler) newLabel() *vm.Label {
	fc.nextLabel++
	return &vm.Label{ID: fc.nextLabel}
}

// place materializes a label at the current instruction index.
func (fc *funcCompiler) place(l *vm.Label) {
	fc.emit(l)
}

// tempVar hands out compiler private variable names. The '$' keeps them out
// of reach of script identifiers.
func (fc *funcCompiler) tempVar() string {
	fc.nextTemp++
	return fmt.Sprintf("$tmp%d", fc.nextTemp)
}

// labelTable resolves every placed label to its instruction index. Labels
// that were allocated but never placed stay out of the table, a jump
// against one of them fails at runtime with an unknown label error.
func (fc *funcCompiler) labelTable() map[int]int {
	table := map[int]int{}
	for index, ins := range fc.instructions {
		if l, ok := ins.(*vm.Label); ok {
			table[l.ID] = index
		}
	}
	return table
}
