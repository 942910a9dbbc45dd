package vm

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"github.com/kungfooman/gamescript/pkg/token"
)

const flagZF = 1

// ----------------------------------------------------------------------------
// Virtual machine

// This section defines the machine itself.
//
// The machine owns the compiled function table, the host function registry,
// the set of live threads plus the staging list for threads born mid-tick,
// the zero flag word shared by Test and the conditional jumps, and the two
// well known objects 'level' and 'game'. Scheduling is cooperative and
// deterministic: one tick dispatches every eligible thread in list order,
// threads suspended on locks are skipped, and newborn threads only join at
// the tick boundary.
type VirtualMachine struct {
	flags int
	files CompiledFiles

	// Cross-file registry: every compiled function by bare name, the
	// fallback for symbols that include-once kept out of a file's own
	// table.
	all map[string]*CompiledFunction

	stock map[string]StockFunction

	threads    []*ThreadContext
	newThreads []*ThreadContext
	current    *ThreadContext

	level     *Object
	game      *Object
	levelCell Variant
	gameCell  Variant

	frame   uint64
	now     func() time.Time
	out     io.Writer
	onError func(error)
}

type Option func(*VirtualMachine)

// WithClock replaces the wall clock used by duration locks, mainly for
// deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(vm *VirtualMachine) { vm.now = now }
}

// WithOutput redirects the print builtins.
func WithOutput(out io.Writer) Option {
	return func(vm *VirtualMachine) { vm.out = out }
}

// WithErrorHandler replaces the sink for runtime errors. A runtime error
// aborts only the thread that raised it, the handler decides whether to
// log, collect or escalate.
func WithErrorHandler(handler func(error)) Option {
	return func(vm *VirtualMachine) { vm.onError = handler }
}

// Initializes and returns to the caller a brand new 'VirtualMachine' for
// the given compiled files.
func NewVirtualMachine(files CompiledFiles, opts ...Option) *VirtualMachine {
	vm := &VirtualMachine{
		files:   files,
		all:     map[string]*CompiledFunction{},
		stock:   map[string]StockFunction{},
		level:   NewObject("level"),
		game:    NewObject("game"),
		now:     time.Now,
		out:     os.Stdout,
		onError: func(err error) { log.Printf("script error: %v", err) },
	}
	vm.levelCell = vm.level
	vm.gameCell = vm.game
	for _, file := range files {
		for name, fn := range file.Functions {
			vm.all[name] = fn
		}
	}
	vm.registerBuiltins()
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// RegisterFunction installs a host function reachable from scripts by name.
func (vm *VirtualMachine) RegisterFunction(name string, fn StockFunction) {
	vm.stock[FoldName(name)] = fn
}

func (vm *VirtualMachine) Level() *Object { return vm.level }
func (vm *VirtualMachine) Game() *Object  { return vm.game }

func (vm *VirtualMachine) Frame() uint64 { return vm.frame }

// AdvanceFrame moves the frame counter, releasing waittillframeend locks.
// Called by the host once per tick.
func (vm *VirtualMachine) AdvanceFrame() { vm.frame++ }

func (vm *VirtualMachine) setFlags(flags int) { vm.flags = flags }

func (vm *VirtualMachine) newDurationLock(seconds Number) *DurationLock {
	return &DurationLock{
		Deadline: vm.now().Add(time.Duration(float64(seconds) * float64(time.Second))),
		now:      vm.now,
	}
}

// ----------------------------------------------------------------------------
// Scheduler

// Spawn starts a new thread on the given entry function with 'level' bound
// as self. The thread joins the active set immediately and first runs on
// the next Tick.
func (vm *VirtualMachine) Spawn(file, function string, args ...Variant) (*ThreadContext, error) {
	file = normalizeFile(file)
	fn, err := vm.findFunction(file, function)
	if err != nil {
		return nil, err
	}
	t := newThreadContext(newFunctionContext(fn, vm.level, args))
	vm.threads = append(vm.threads, t)
	return t, nil
}

// Alive reports whether any thread can still make progress.
func (vm *VirtualMachine) Alive() bool {
	for _, t := range vm.threads {
		if !t.done && !t.marked {
			return true
		}
	}
	return len(vm.newThreads) > 0
}

// Tick runs one scheduler pass: every thread whose lock set is empty
// dispatches instructions until it suspends, completes or fails. A thread
// holding locks is skipped for the tick, shedding the locks that have come
// unlocked so it resumes on the next one. The boundary work (reaping dead
// threads, promoting newborn ones) closes the pass.
func (vm *VirtualMachine) Tick() {
	for _, t := range vm.threads {
		if t.done || t.marked {
			continue
		}
		if t.clearUnlocked() {
			continue
		}
		vm.runThread(t)
	}

	// Tick boundary: reap, then promote the staging list.
	kept := vm.threads[:0]
	for _, t := range vm.threads {
		if t.done || t.marked {
			t.dispose()
			continue
		}
		kept = append(kept, t)
	}
	vm.threads = append(kept, vm.newThreads...)
	vm.newThreads = nil
}

// Run ticks the machine until every thread completed or maxTicks elapsed
// (zero means no limit), advancing the frame at each boundary.
func (vm *VirtualMachine) Run(maxTicks int) {
	for i := 0; vm.Alive() && (maxTicks <= 0 || i < maxTicks); i++ {
		vm.Tick()
		vm.AdvanceFrame()
	}
}

// runThread dispatches the thread until it blocks, finishes or fails.
func (vm *VirtualMachine) runThread(t *ThreadContext) {
	vm.current = t
	defer func() { vm.current = nil }()

	for !t.done && !t.marked && len(t.locks) == 0 {
		fc, err := t.FunctionContext()
		if err != nil {
			vm.abortThread(t, err)
			return
		}
		if fc.InstructionIndex >= len(fc.fn.Instructions) {
			// Falling off the end behaves like 'return;'.
			t.Push(Undefined{})
			t.Ret()
			continue
		}
		ins := fc.fn.Instructions[fc.InstructionIndex]
		fc.InstructionIndex++
		if err := ins.Execute(vm, t); err != nil {
			vm.abortThread(t, fmt.Errorf("%s::%s: %s: %w", fc.File, fc.Function, ins, err))
			return
		}
	}
}

func (vm *VirtualMachine) abortThread(t *ThreadContext, err error) {
	t.marked = true
	vm.onError(err)
}

// ----------------------------------------------------------------------------
// Calls

func normalizeFile(file string) string {
	return strings.ReplaceAll(file, "\\", "/")
}

// findFunction resolves (file, name), falling back to the cross-file
// registry for symbols a file lost to include-once.
func (vm *VirtualMachine) findFunction(file, name string) (*CompiledFunction, error) {
	if f, ok := vm.files[file]; ok {
		if fn, ok := f.Functions[name]; ok {
			return fn, nil
		}
	}
	if fn, ok := vm.all[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("function '%s::%s' not found", file, name)
}

// callFunction performs a synchronous call: compiled functions push a new
// function context (the dispatch loop carries on inside it), host functions
// run to completion here and leave exactly one value behind.
func (vm *VirtualMachine) callFunction(t *ThreadContext, self Variant, file, name string, args []Variant) error {
	file = normalizeFile(file)
	if f, ok := vm.files[file]; ok {
		if fn, ok := f.Functions[name]; ok {
			t.callstack.Push(newFunctionContext(fn, self, args))
			return nil
		}
	}
	if fn, ok := vm.stock[FoldName(name)]; ok {
		return vm.callBuiltin(t, self, fn, args)
	}
	if fn, ok := vm.all[name]; ok {
		t.callstack.Push(newFunctionContext(fn, self, args))
		return nil
	}
	return fmt.Errorf("function '%s::%s' not found", file, name)
}

func (vm *VirtualMachine) callBuiltin(t *ThreadContext, self Variant, fn StockFunction, args []Variant) error {
	ctx := &hostContext{args: args}
	selfObj, _ := self.(*Object)
	n, err := fn(ctx, selfObj)
	if err != nil {
		return err
	}
	if n > 0 && len(ctx.returns) > 0 {
		t.Push(ctx.returns[0])
	} else {
		t.Push(Undefined{})
	}
	return nil
}

// execThread starts a threaded call: the callee runs on its own thread
// beginning next tick, the caller receives an opaque handle.
func (vm *VirtualMachine) execThread(self Variant, file, name string, args []Variant) (Variant, error) {
	file = normalizeFile(file)
	fn, err := vm.findFunction(file, name)
	if err != nil {
		return nil, err
	}
	t := newThreadContext(newFunctionContext(fn, self, args))
	vm.newThreads = append(vm.newThreads, t)
	return NewObject("thread"), nil
}

// ----------------------------------------------------------------------------
// Variables

// variableCell resolves a (folded) name to its storage cell. The three
// well known names resolve outside the local scope.
func (vm *VirtualMachine) variableCell(t *ThreadContext, name string) (*Variant, error) {
	switch name {
	case "level":
		return &vm.levelCell, nil
	case "game":
		return &vm.gameCell, nil
	case "self":
		fc, err := t.FunctionContext()
		if err != nil {
			return nil, err
		}
		return fc.Self, nil
	}
	fc, err := t.FunctionContext()
	if err != nil {
		return nil, err
	}
	return fc.variableCell(name), nil
}

// ----------------------------------------------------------------------------
// Events

func (vm *VirtualMachine) waittill(t *ThreadContext, obj *Object, event string, captures []string) {
	lock := &EventLock{thread: t, object: obj, event: event, captures: captures}
	t.installLock(lock)
	obj.AddListener(lock)
}

// Notify delivers an event with payload to every listener currently parked
// on obj. Without listeners the notification is dropped.
func (vm *VirtualMachine) Notify(obj *Object, event string, payload ...Variant) {
	obj.Notify(event, payload)
}

func (vm *VirtualMachine) endon(t *ThreadContext, obj *Object, event string) {
	watch := &EndonWatch{thread: t, object: obj, event: event}
	t.endons = append(t.endons, watch)
	obj.AddListener(watch)
}

// ----------------------------------------------------------------------------
// Builtins

// The machine ships the event builtins plus a minimal output surface, the
// embedding host registers everything else.
func (vm *VirtualMachine) registerBuiltins() {
	vm.RegisterFunction("notify", func(ctx VMContext, self *Object) (int, error) {
		if self == nil {
			return 0, fmt.Errorf("notify needs an object")
		}
		n := ctx.NumArgs()
		if n == 0 {
			return 0, fmt.Errorf("notify needs an event name")
		}
		event, err := ctx.GetString(n - 1)
		if err != nil {
			return 0, err
		}
		payload := make([]Variant, 0, n-1)
		for i := n - 2; i >= 0; i-- {
			v, err := ctx.GetVariant(i)
			if err != nil {
				return 0, err
			}
			payload = append(payload, v)
		}
		vm.Notify(self, event, payload...)
		return 0, nil
	})

	vm.RegisterFunction("endon", func(ctx VMContext, self *Object) (int, error) {
		if self == nil {
			return 0, fmt.Errorf("endon needs an object")
		}
		event, err := ctx.GetString(0)
		if err != nil {
			return 0, err
		}
		if vm.current == nil {
			return 0, fmt.Errorf("endon outside of thread")
		}
		vm.endon(vm.current, self, event)
		return 0, nil
	})

	echo := func(newline bool) StockFunction {
		return func(ctx VMContext, self *Object) (int, error) {
			parts := make([]string, 0, ctx.NumArgs())
			for i := ctx.NumArgs() - 1; i >= 0; i-- {
				v, err := ctx.GetVariant(i)
				if err != nil {
					return 0, err
				}
				parts = append(parts, VariantToString(v))
			}
			fmt.Fprint(vm.out, strings.Join(parts, ""))
			if newline {
				fmt.Fprintln(vm.out)
			}
			return 0, nil
		}
	}
	vm.RegisterFunction("print", echo(false))
	vm.RegisterFunction("println", echo(true))
}

// ----------------------------------------------------------------------------
// Binary operators

// binop dispatches on the operand types: strings win over everything,
// vectors pair with vectors, a Number on either side promotes the pair to
// float, anything left is integer arithmetic.
func (vm *VirtualMachine) binop(left, right Variant, op token.Type) (Variant, error) {
	_, leftStr := left.(String)
	_, rightStr := right.(String)
	if leftStr || rightStr {
		return stringOp(VariantToString(left), VariantToString(right), op)
	}

	leftVec, leftIsVec := left.(Vector)
	rightVec, rightIsVec := right.(Vector)
	if leftIsVec && rightIsVec {
		return vectorOp(leftVec, rightVec, op)
	}

	// Equality against undefined tests for definedness, the everyday
	// 'x == undefined' guard.
	_, leftUndef := left.(Undefined)
	_, rightUndef := right.(Undefined)
	if leftUndef || rightUndef {
		switch op {
		case token.Eq:
			return boolInt(leftUndef && rightUndef), nil
		case token.Neq:
			return boolInt(!(leftUndef && rightUndef)), nil
		}
		return nil, fmt.Errorf("invalid operator %s for undefined", op)
	}

	_, leftNum := left.(Number)
	_, rightNum := right.(Number)
	if leftNum || rightNum {
		a, err := VariantToNumber(left)
		if err != nil {
			return nil, err
		}
		b, err := VariantToNumber(right)
		if err != nil {
			return nil, err
		}
		return floatOp(a, b, op)
	}

	a, err := VariantToInteger(left)
	if err != nil {
		return nil, err
	}
	b, err := VariantToInteger(right)
	if err != nil {
		return nil, err
	}
	return integerOp(a, b, op)
}

func boolInt(b bool) Integer {
	if b {
		return 1
	}
	return 0
}

func integerOp(a, b Integer, op token.Type) (Variant, error) {
	switch op {
	case '+':
		return a + b, nil
	case '-':
		return a - b, nil
	case '*':
		return a * b, nil
	case '/':
		if b == 0 {
			return nil, fmt.Errorf("integer division by zero")
		}
		return a / b, nil
	case '%':
		if b == 0 {
			return nil, fmt.Errorf("integer division by zero")
		}
		return a % b, nil
	case '&':
		return a & b, nil
	case '|':
		return a | b, nil
	case '^':
		return a ^ b, nil
	case token.Lsht:
		return a << uint32(b), nil
	case token.Rsht:
		return a >> uint32(b), nil
	case token.Eq:
		return boolInt(a == b), nil
	case token.Neq:
		return boolInt(a != b), nil
	case token.Geq:
		return boolInt(a >= b), nil
	case token.Leq:
		return boolInt(a <= b), nil
	case '>':
		return boolInt(a > b), nil
	case '<':
		return boolInt(a < b), nil
	case token.AndAnd:
		return boolInt(a != 0 && b != 0), nil
	case token.OrOr:
		return boolInt(a != 0 || b != 0), nil
	}
	return nil, fmt.Errorf("invalid operator %s", op)
}

func floatOp(a, b Number, op token.Type) (Variant, error) {
	switch op {
	case '+':
		return a + b, nil
	case '-':
		return a - b, nil
	case '*':
		return a * b, nil
	case '/':
		return a / b, nil
	case '%':
		return Number(math.Mod(float64(a), float64(b))), nil
	case token.Eq:
		return boolInt(a == b), nil
	case token.Neq:
		return boolInt(a != b), nil
	case token.Geq:
		return boolInt(a >= b), nil
	case token.Leq:
		return boolInt(a <= b), nil
	case '>':
		return boolInt(a > b), nil
	case '<':
		return boolInt(a < b), nil
	}
	return nil, fmt.Errorf("invalid operator %s", op)
}

func vectorOp(a, b Vector, op token.Type) (Variant, error) {
	switch op {
	case '+':
		return Vector{a.X + b.X, a.Y + b.Y, a.Z + b.Z}, nil
	case '-':
		return Vector{a.X - b.X, a.Y - b.Y, a.Z - b.Z}, nil
	case '*':
		return Vector{a.X * b.X, a.Y * b.Y, a.Z * b.Z}, nil
	case '/':
		return Vector{a.X / b.X, a.Y / b.Y, a.Z / b.Z}, nil
	}
	return nil, fmt.Errorf("invalid operator %s", op)
}

func stringOp(a, b string, op token.Type) (Variant, error) {
	switch op {
	case '+':
		return String(a + b), nil
	case token.Eq:
		return boolInt(a == b), nil
	case token.Neq:
		return boolInt(a != b), nil
	}
	return nil, fmt.Errorf("invalid operator %s", op)
}
