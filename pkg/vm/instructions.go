package vm

import (
	"fmt"

	"github.com/kungfooman/gamescript/pkg/token"
)

// ----------------------------------------------------------------------------
// Instruction set

// This section defines the opcodes executed by the machine.
//
// Every instruction is a small struct with an Execute method working against
// the current thread's operand stack. The stack contracts are documented per
// opcode where they are not obvious. Execution errors abort the current
// thread only, the machine keeps ticking everything else.

type Instruction interface {
	Execute(vm *VirtualMachine, t *ThreadContext) error
	String() string
}

// ---- literal pushes --------------------------------------------------------

type PushInteger struct{ Value Integer }

func (i *PushInteger) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.Push(i.Value)
	return nil
}
func (i *PushInteger) String() string { return fmt.Sprintf("PushInteger %d", i.Value) }

type PushNumber struct{ Value Number }

func (i *PushNumber) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.Push(i.Value)
	return nil
}
func (i *PushNumber) String() string { return fmt.Sprintf("PushNumber %g", i.Value) }

type PushString struct{ Value string }

func (i *PushString) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.Push(String(i.Value))
	return nil
}
func (i *PushString) String() string { return fmt.Sprintf("PushString %q", i.Value) }

type PushAnimationString struct{ Value string }

func (i *PushAnimationString) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.Push(Animation{Reference: i.Value})
	return nil
}
func (i *PushAnimationString) String() string { return fmt.Sprintf("PushAnimationString %q", i.Value) }

type PushLocalizedString struct{ Value string }

func (i *PushLocalizedString) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.Push(LocalizedString{Reference: i.Value})
	return nil
}
func (i *PushLocalizedString) String() string { return fmt.Sprintf("PushLocalizedString %q", i.Value) }

type PushFunctionPointer struct {
	File     string
	Function string
}

func (i *PushFunctionPointer) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.Push(FunctionPointer{File: i.File, Name: i.Function})
	return nil
}
func (i *PushFunctionPointer) String() string {
	return fmt.Sprintf("PushFunctionPointer %s::%s", i.File, i.Function)
}

type PushUndefined struct{}

func (i *PushUndefined) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.Push(Undefined{})
	return nil
}
func (i *PushUndefined) String() string { return "PushUndefined" }

// PushVector pops the three components pushed in x, y, z order (so z sits
// on top) and pushes the assembled vector.
type PushVector struct{}

func (i *PushVector) Execute(vm *VirtualMachine, t *ThreadContext) error {
	var parts [3]Number
	for slot := 2; slot >= 0; slot-- {
		v, err := t.Pop()
		if err != nil {
			return err
		}
		n, err := VariantToNumber(v)
		if err != nil {
			return err
		}
		parts[slot] = n
	}
	t.Push(Vector{X: parts[0], Y: parts[1], Z: parts[2]})
	return nil
}
func (i *PushVector) String() string { return "PushVector" }

// PushArray pushes a fresh empty object used as an array.
type PushArray struct{}

func (i *PushArray) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.Push(NewObject("array"))
	return nil
}
func (i *PushArray) String() string { return "PushArray" }

type Pop struct{}

func (i *Pop) Execute(vm *VirtualMachine, t *ThreadContext) error {
	_, err := t.Pop()
	return err
}
func (i *Pop) String() string { return "Pop" }

// ---- variables and fields --------------------------------------------------

type LoadValue struct{ Name string }

func (i *LoadValue) Execute(vm *VirtualMachine, t *ThreadContext) error {
	cell, err := vm.variableCell(t, FoldName(i.Name))
	if err != nil {
		return err
	}
	t.Push(*cell)
	return nil
}
func (i *LoadValue) String() string { return fmt.Sprintf("LoadValue %s", i.Name) }

type LoadRef struct{ Name string }

func (i *LoadRef) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.Push(Reference{Kind: RefVariable, Variable: FoldName(i.Name)})
	return nil
}
func (i *LoadRef) String() string { return fmt.Sprintf("LoadRef %s", i.Name) }

// LoadObjectFieldValue pops the receiver value (top) and the property name
// below it and pushes the field value. Vectors resolve their component,
// Undefined receivers read as an empty object, 'size' reads the field count.
type LoadObjectFieldValue struct{}

func (i *LoadObjectFieldValue) Execute(vm *VirtualMachine, t *ThreadContext) error {
	recv, err := t.Pop()
	if err != nil {
		return err
	}
	prop, err := t.PopString()
	if err != nil {
		return err
	}
	prop = FoldName(prop)

	switch obj := recv.(type) {
	case Vector:
		idx, err := vectorIndex(prop)
		if err != nil {
			return err
		}
		t.Push(obj.At(idx))
		return nil
	case Undefined:
		t.Push(Undefined{})
		return nil
	case *Object:
		if prop == "size" {
			t.Push(Integer(obj.FieldCount()))
			return nil
		}
		t.Push(obj.GetField(prop))
		return nil
	default:
		return fmt.Errorf("expected object, got %s", TypeName(recv))
	}
}
func (i *LoadObjectFieldValue) String() string { return "LoadObjectFieldValue" }

// LoadObjectFieldRef pops a reference to the receiver (top) and the
// property name below it and pushes the lvalue of the field. An Undefined
// receiver is boxed: a fresh object is stored back through the receiver
// reference so later reads observe the same object.
type LoadObjectFieldRef struct{}

func (i *LoadObjectFieldRef) Execute(vm *VirtualMachine, t *ThreadContext) error {
	base, err := t.PopRef()
	if err != nil {
		return err
	}
	prop, err := t.PopString()
	if err != nil {
		return err
	}
	prop = FoldName(prop)
	if prop == "size" {
		return fmt.Errorf("size is read-only")
	}

	cell, err := base.cell(vm, t)
	if err != nil {
		return err
	}
	switch held := (*cell).(type) {
	case Vector:
		idx, err := vectorIndex(prop)
		if err != nil {
			return err
		}
		t.Push(Reference{Kind: RefVectorSlot, Cell: cell, Index: idx})
		return nil
	case *Object:
		t.Push(Reference{Kind: RefField, Object: held, Field: prop})
		return nil
	case Undefined:
		boxed := NewObject("object created from undefined")
		*cell = boxed
		t.Push(Reference{Kind: RefField, Object: boxed, Field: prop})
		return nil
	default:
		return fmt.Errorf("not a lvalue")
	}
}
func (i *LoadObjectFieldRef) String() string { return "LoadObjectFieldRef" }

// StoreRef pops the destination reference (top) and the value below it and
// performs the assignment.
type StoreRef struct{}

func (i *StoreRef) Execute(vm *VirtualMachine, t *ThreadContext) error {
	ref, err := t.PopRef()
	if err != nil {
		return err
	}
	value, err := t.Pop()
	if err != nil {
		return err
	}
	if err := ref.Store(vm, t, value); err != nil {
		if ref.Kind == RefField {
			return fmt.Errorf("failed setting field %s to %s on object: %w",
				ref.Field, VariantToString(value), err)
		}
		return err
	}
	return nil
}
func (i *StoreRef) String() string { return "StoreRef" }

// ---- operators -------------------------------------------------------------

// BinOp pops the right operand (top) and the left operand below it and
// pushes the result, dispatching on the operand types.
type BinOp struct{ Op token.Type }

func (i *BinOp) Execute(vm *VirtualMachine, t *ThreadContext) error {
	right, err := t.Pop()
	if err != nil {
		return err
	}
	left, err := t.Pop()
	if err != nil {
		return err
	}
	result, err := vm.binop(left, right, i.Op)
	if err != nil {
		return err
	}
	t.Push(result)
	return nil
}
func (i *BinOp) String() string { return fmt.Sprintf("BinOp %s", i.Op) }

type Not struct{}

func (i *Not) Execute(vm *VirtualMachine, t *ThreadContext) error {
	v, err := t.Pop()
	if err != nil {
		return err
	}
	n, err := VariantToInteger(v)
	if err != nil {
		return err
	}
	t.Push(^n)
	return nil
}
func (i *Not) String() string { return "Not" }

type LogicalNot struct{}

func (i *LogicalNot) Execute(vm *VirtualMachine, t *ThreadContext) error {
	v, err := t.Pop()
	if err != nil {
		return err
	}
	switch n := v.(type) {
	case Integer:
		if n == 0 {
			t.Push(Integer(1))
		} else {
			t.Push(Integer(0))
		}
		return nil
	case Undefined:
		t.Push(Integer(1))
		return nil
	default:
		return fmt.Errorf("unexpected %s", TypeName(v))
	}
}
func (i *LogicalNot) String() string { return "LogicalNot" }

// Test pops one operand and raises the zero flag when it is integer zero or
// Undefined.
type Test struct{}

func (i *Test) Execute(vm *VirtualMachine, t *ThreadContext) error {
	v, err := t.Pop()
	if err != nil {
		return err
	}
	switch n := v.(type) {
	case Integer:
		if n == 0 {
			vm.setFlags(vm.flags | flagZF)
		} else {
			vm.setFlags(vm.flags &^ flagZF)
		}
		return nil
	case Undefined:
		vm.setFlags(vm.flags | flagZF)
		return nil
	default:
		return fmt.Errorf("unexpected %s", TypeName(v))
	}
}
func (i *Test) String() string { return "Test" }

// ---- control flow ----------------------------------------------------------

type Label struct{ ID int }

func (i *Label) Execute(vm *VirtualMachine, t *ThreadContext) error { return nil }
func (i *Label) String() string                                     { return fmt.Sprintf("Label %d", i.ID) }

// Jumps hold their target label weakly: a nil destination (a label the
// compiler dropped) degrades the jump to a no-op.
type Jump struct{ Dest *Label }

func (i *Jump) Execute(vm *VirtualMachine, t *ThreadContext) error {
	if i.Dest == nil {
		return nil
	}
	return t.Jump(i.Dest.ID)
}
func (i *Jump) String() string { return fmt.Sprintf("Jump %v", i.Dest) }

type JumpZero struct{ Dest *Label }

func (i *JumpZero) Execute(vm *VirtualMachine, t *ThreadContext) error {
	if vm.flags&flagZF == 0 || i.Dest == nil {
		return nil
	}
	return t.Jump(i.Dest.ID)
}
func (i *JumpZero) String() string { return fmt.Sprintf("JumpZero %v", i.Dest) }

type JumpNotZero struct{ Dest *Label }

func (i *JumpNotZero) Execute(vm *VirtualMachine, t *ThreadContext) error {
	if vm.flags&flagZF != 0 || i.Dest == nil {
		return nil
	}
	return t.Jump(i.Dest.ID)
}
func (i *JumpNotZero) String() string { return fmt.Sprintf("JumpNotZero %v", i.Dest) }

type Constant0 struct{}

func (i *Constant0) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.Push(Integer(0))
	return nil
}
func (i *Constant0) String() string { return "Constant0" }

type Constant1 struct{}

func (i *Constant1) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.Push(Integer(1))
	return nil
}
func (i *Constant1) String() string { return "Constant1" }

// ---- calls -----------------------------------------------------------------

// popCallOperands removes the call operands in their stack order: the
// arguments (left-most deepest), then the receiver when the call is a
// method call, then the function pointer when requested.
func popCallOperands(t *ThreadContext, numArgs int, isMethod, isPointer bool) (args []Variant, self Variant, fp FunctionPointer, err error) {
	popped, err := t.stack.PopN(numArgs)
	if err != nil {
		return nil, nil, fp, err
	}
	// PopN yields top first, flip back into declaration order.
	args = make([]Variant, numArgs)
	for i, v := range popped {
		args[numArgs-1-i] = v
	}
	if isMethod {
		recv, err := t.Pop()
		if err != nil {
			return nil, nil, fp, err
		}
		if _, ok := recv.(*Object); !ok {
			return nil, nil, fp, fmt.Errorf("expected object receiver, got %s", TypeName(recv))
		}
		self = recv
	}
	if isPointer {
		v, err := t.Pop()
		if err != nil {
			return nil, nil, fp, err
		}
		ptr, ok := v.(FunctionPointer)
		if !ok {
			return nil, nil, fp, fmt.Errorf("%s is not a function pointer", TypeName(v))
		}
		fp = ptr
	}
	return args, self, fp, nil
}

// inheritSelf falls back to the caller's self object when the call carries
// no receiver of its own.
func inheritSelf(t *ThreadContext, self Variant) Variant {
	if self != nil {
		return self
	}
	if fc, err := t.FunctionContext(); err == nil {
		return *fc.Self
	}
	return Undefined{}
}

type CallFunction struct {
	Function     string
	NumArgs      int
	IsMethodCall bool
	IsThreaded   bool
}

func (i *CallFunction) Execute(vm *VirtualMachine, t *ThreadContext) error {
	args, self, _, err := popCallOperands(t, i.NumArgs, i.IsMethodCall, false)
	if err != nil {
		return err
	}
	self = inheritSelf(t, self)
	if i.IsThreaded {
		handle, err := vm.execThread(self, t.CurrentFile(), i.Function, args)
		if err != nil {
			return err
		}
		t.Push(handle)
		return nil
	}
	return vm.callFunction(t, self, t.CurrentFile(), i.Function, args)
}
func (i *CallFunction) String() string {
	return fmt.Sprintf("CallFunction %s numargs=%d", i.Function, i.NumArgs)
}

type CallFunctionFile struct {
	File         string
	Function     string
	NumArgs      int
	IsMethodCall bool
	IsThreaded   bool
}

func (i *CallFunctionFile) Execute(vm *VirtualMachine, t *ThreadContext) error {
	args, self, _, err := popCallOperands(t, i.NumArgs, i.IsMethodCall, false)
	if err != nil {
		return err
	}
	self = inheritSelf(t, self)
	if i.IsThreaded {
		handle, err := vm.execThread(self, i.File, i.Function, args)
		if err != nil {
			return err
		}
		t.Push(handle)
		return nil
	}
	return vm.callFunction(t, self, i.File, i.Function, args)
}
func (i *CallFunctionFile) String() string {
	return fmt.Sprintf("CallFunctionFile %s::%s numargs=%d", i.File, i.Function, i.NumArgs)
}

type CallFunctionPointer struct {
	NumArgs      int
	IsMethodCall bool
	IsThreaded   bool
}

func (i *CallFunctionPointer) Execute(vm *VirtualMachine, t *ThreadContext) error {
	args, self, fp, err := popCallOperands(t, i.NumArgs, i.IsMethodCall, true)
	if err != nil {
		return err
	}
	self = inheritSelf(t, self)
	file := fp.File
	if file == "" {
		file = t.CurrentFile()
	}
	if i.IsThreaded {
		handle, err := vm.execThread(self, file, fp.Name, args)
		if err != nil {
			return err
		}
		t.Push(handle)
		return nil
	}
	return vm.callFunction(t, self, file, fp.Name, args)
}
func (i *CallFunctionPointer) String() string {
	return fmt.Sprintf("CallFunctionPointer numargs=%d", i.NumArgs)
}

type Ret struct{}

func (i *Ret) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.Ret()
	return nil
}
func (i *Ret) String() string { return "Ret" }

// ---- suspension ------------------------------------------------------------

// Wait pops the duration in seconds and parks the thread on a wall-clock
// deadline.
type Wait struct{}

func (i *Wait) Execute(vm *VirtualMachine, t *ThreadContext) error {
	v, err := t.Pop()
	if err != nil {
		return err
	}
	duration, err := VariantToNumber(v)
	if err != nil {
		return err
	}
	t.installLock(vm.newDurationLock(duration))
	return nil
}
func (i *Wait) String() string { return "Wait" }

type WaitTillFrameEnd struct{}

func (i *WaitTillFrameEnd) Execute(vm *VirtualMachine, t *ThreadContext) error {
	t.installLock(&FrameEndLock{vm: vm, Frame: vm.Frame()})
	return nil
}
func (i *WaitTillFrameEnd) String() string { return "WaitTillFrameEnd" }

// WaitTill pops the receiver object (top), the event name below it and
// NumArgs capture names below that, then parks the thread on the event.
type WaitTill struct {
	NumArgs      int
	IsMethodCall bool
}

func (i *WaitTill) Execute(vm *VirtualMachine, t *ThreadContext) error {
	var obj *Object
	if i.IsMethodCall {
		recv, err := t.Pop()
		if err != nil {
			return err
		}
		o, ok := recv.(*Object)
		if !ok {
			return fmt.Errorf("expected object receiver, got %s", TypeName(recv))
		}
		obj = o
	}
	if obj == nil {
		return fmt.Errorf("waittill needs an object")
	}
	event, err := t.PopString()
	if err != nil {
		return err
	}
	captures := make([]string, i.NumArgs)
	for idx := i.NumArgs - 1; idx >= 0; idx-- {
		name, err := t.PopString()
		if err != nil {
			return err
		}
		captures[idx] = FoldName(name)
	}
	vm.waittill(t, obj, event, captures)
	return nil
}
func (i *WaitTill) String() string {
	return fmt.Sprintf("WaitTill numargs=%d", i.NumArgs)
}
