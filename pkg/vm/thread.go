package vm

import (
	"fmt"

	"github.com/kungfooman/gamescript/pkg/utils"
)

// ----------------------------------------------------------------------------
// Compiled form

// The boundary with the compiler: per function an ordered instruction
// vector plus the label table mapping label ids onto instruction indices.

type CompiledFunction struct {
	Name         string
	File         string
	Parameters   []string
	Instructions []Instruction
	Labels       map[int]int
}

type CompiledFile struct {
	Name      string
	Functions map[string]*CompiledFunction
}

type CompiledFiles map[string]*CompiledFile

// ----------------------------------------------------------------------------
// Function context

// Per-call record: the callee's identity, the bound self object, the local
// variable cells, the label table and the instruction cursor.
type FunctionContext struct {
	File      string
	Function  string
	Self      *Variant
	Variables map[string]*Variant

	InstructionIndex int
	fn               *CompiledFunction
}

func newFunctionContext(fn *CompiledFunction, self Variant, args []Variant) *FunctionContext {
	fc := &FunctionContext{
		File:      fn.File,
		Function:  fn.Name,
		Self:      &self,
		Variables: map[string]*Variant{},
		fn:        fn,
	}
	// Left-most argument binds to the first parameter, parameters without
	// an argument stay unset and materialize as Undefined on first touch.
	for i, param := range fn.Parameters {
		if i < len(args) {
			v := args[i]
			fc.Variables[FoldName(param)] = &v
		}
	}
	return fc
}

// Returns the cell of a local variable, creating an Undefined cell on first
// access. The name must already be folded.
func (fc *FunctionContext) variableCell(name string) *Variant {
	if cell, ok := fc.Variables[name]; ok {
		return cell
	}
	var v Variant = Undefined{}
	fc.Variables[name] = &v
	return &v
}

// ----------------------------------------------------------------------------
// Thread context

// A cooperative thread: one operand stack shared by the whole call chain,
// the call stack of function contexts, and the locks currently suspending
// it.
type ThreadContext struct {
	stack     utils.Stack[Variant]
	callstack utils.Stack[*FunctionContext]
	locks     []ThreadLock
	endons    []*EndonWatch

	marked bool // reaped at the next tick boundary
	done   bool // ran to completion
	result Variant
}

func newThreadContext(fc *FunctionContext) *ThreadContext {
	t := &ThreadContext{result: Undefined{}}
	t.callstack.Push(fc)
	return t
}

func (t *ThreadContext) Push(v Variant) {
	t.stack.Push(v)
}

func (t *ThreadContext) Pop() (Variant, error) {
	return t.stack.Pop()
}

// Returns the operand 'offset' slots below the stack top.
func (t *ThreadContext) Top(offset int) (Variant, error) {
	return t.stack.At(offset)
}

// Pops the top operand and requires it to be a string, coercing the
// printable types.
func (t *ThreadContext) PopString() (string, error) {
	v, err := t.stack.Pop()
	if err != nil {
		return "", err
	}
	switch v.(type) {
	case String, Integer, Number, LocalizedString:
		return VariantToString(v), nil
	}
	return "", fmt.Errorf("expected string, got %s", TypeName(v))
}

// Pops the top operand and requires it to be a reference.
func (t *ThreadContext) PopRef() (Reference, error) {
	v, err := t.stack.Pop()
	if err != nil {
		return Reference{}, err
	}
	ref, ok := v.(Reference)
	if !ok {
		return Reference{}, fmt.Errorf("expected reference, got %s", TypeName(v))
	}
	return ref, nil
}

// Returns the active (topmost) function context.
func (t *ThreadContext) FunctionContext() (*FunctionContext, error) {
	fc, err := t.callstack.Top()
	if err != nil {
		return nil, fmt.Errorf("callstack empty")
	}
	return fc, nil
}

// File of the currently executing function, used to resolve unqualified
// calls.
func (t *ThreadContext) CurrentFile() string {
	if fc, err := t.FunctionContext(); err == nil {
		return fc.File
	}
	return ""
}

// Moves the instruction cursor of the active context to a label.
func (t *ThreadContext) Jump(labelID int) error {
	fc, err := t.FunctionContext()
	if err != nil {
		return err
	}
	index, ok := fc.fn.Labels[labelID]
	if !ok {
		return fmt.Errorf("cannot jump to non existing label %d", labelID)
	}
	fc.InstructionIndex = index
	return nil
}

// Ret pops the active function context. The return value stays where the
// callee left it, on the shared operand stack, where the caller picks it
// up. When the last context unwinds the thread is complete and the value
// becomes the thread result.
func (t *ThreadContext) Ret() {
	t.callstack.Pop()
	if t.callstack.Count() == 0 {
		if top, err := t.stack.Pop(); err == nil {
			t.result = top
		}
		t.done = true
	}
}

// Done reports whether the thread ran to completion (as opposed to being
// cancelled or still live).
func (t *ThreadContext) Done() bool {
	return t.done
}

// Result returns the value of the thread's entry function once the thread
// has completed, Undefined otherwise.
func (t *ThreadContext) Result() Variant {
	return t.result
}

func (t *ThreadContext) installLock(l ThreadLock) {
	t.locks = append(t.locks, l)
}

// Drops every lock that has come unlocked, reporting whether any lock was
// present at all this tick.
func (t *ThreadContext) clearUnlocked() bool {
	if len(t.locks) == 0 {
		return false
	}
	kept := t.locks[:0]
	for _, l := range t.locks {
		if l.Locked() {
			kept = append(kept, l)
		}
	}
	t.locks = kept
	return true
}

// dispose detaches everything the thread parked on other objects. Called
// when the thread is reaped.
func (t *ThreadContext) dispose() {
	for _, l := range t.locks {
		if el, ok := l.(*EventLock); ok && !el.released {
			el.object.RemoveListener(el)
		}
	}
	t.locks = nil
	for _, w := range t.endons {
		w.object.RemoveListener(w)
	}
	t.endons = nil
}
