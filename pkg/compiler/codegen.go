package compiler

import (
	"fmt"

	"github.com/kungfooman/gamescript/pkg/ast"
	"github.com/kungfooman/gamescript/pkg/token"
	"github.com/kungfooman/gamescript/pkg/vm"
)

// ----------------------------------------------------------------------------
// Expression lowering

// Expressions lower to stack code: every expression leaves exactly one
// value when a value is needed. Assignments and the increment forms are the
// exception, they can skip the final reload when lowered at statement
// position, everything else just pops the unused result.

func (fc *funcCompiler) expression(e ast.Expression, needValue bool) error {
	switch v := e.(type) {
	case *ast.AssignmentExpression:
		return fc.assignment(v, needValue)
	case *ast.UnaryExpression:
		if v.Op == token.PlusPlus || v.Op == token.MinusMinus {
			return fc.increment(v, needValue)
		}
	case *ast.CallExpression:
		if isWaitTill(v) {
			if err := fc.waitTill(v); err != nil {
				return err
			}
			if needValue {
				fc.emit(&vm.PushUndefined{})
			}
			return nil
		}
	}
	if err := fc.value(e); err != nil {
		return err
	}
	if !needValue {
		fc.emit(&vm.Pop{})
	}
	return nil
}

// value emits code leaving exactly one value on the stack.
func (fc *funcCompiler) value(e ast.Expression) error {
	switch v := e.(type) {
	case *ast.Identifier:
		fc.emit(&vm.LoadValue{Name: v.Name})
		return nil

	case *ast.Literal:
		return fc.literal(v)

	case *ast.LocalizedString:
		fc.emit(&vm.PushLocalizedString{Value: v.Reference})
		return nil

	case *ast.FunctionPointer:
		file := v.Identifier.FileReference
		if file == "" {
			file = fc.file
		}
		fc.emit(&vm.PushFunctionPointer{File: file, Function: v.Identifier.Name})
		return nil

	case *ast.UnaryExpression:
		return fc.unary(v)

	case *ast.BinaryExpression:
		return fc.binary(v)

	case *ast.ConditionalExpression:
		return fc.conditional(v)

	case *ast.MemberExpression:
		return fc.memberValue(v)

	case *ast.CallExpression:
		if isWaitTill(v) {
			if err := fc.waitTill(v); err != nil {
				return err
			}
			fc.emit(&vm.PushUndefined{})
			return nil
		}
		return fc.call(v)

	case *ast.VectorExpression:
		for _, elem := range v.Elements {
			if err := fc.value(elem); err != nil {
				return err
			}
		}
		fc.emit(&vm.PushVector{})
		return nil

	case *ast.ArrayExpression:
		if len(v.Elements) > 0 {
			// Arrays grow through 'a[a.size] = x', a populated literal
			// has no runtime counterpart.
			return fmt.Errorf("array literals with elements are not supported")
		}
		fc.emit(&vm.PushArray{})
		return nil

	case *ast.AssignmentExpression:
		return fc.assignment(v, true)

	default:
		return fmt.Errorf("unhandled expression %T", e)
	}
}

func (fc *funcCompiler) unary(v *ast.UnaryExpression) error {
	switch v.Op {
	case '-':
		fc.emit(&vm.Constant0{})
		if err := fc.value(v.Argument); err != nil {
			return err
		}
		fc.emit(&vm.BinOp{Op: '-'})
		return nil
	case '!':
		if err := fc.value(v.Argument); err != nil {
			return err
		}
		fc.emit(&vm.LogicalNot{})
		return nil
	case '~':
		if err := fc.value(v.Argument); err != nil {
			return err
		}
		fc.emit(&vm.Not{})
		return nil
	case token.PlusPlus, token.MinusMinus:
		return fc.increment(v, true)
	default:
		return fmt.Errorf("unhandled unary operator %s", v.Op)
	}
}

// binary emits the operator. The logical pair short-circuits through the
// zero flag instead of reaching BinOp.
func (fc *funcCompiler) binary(v *ast.BinaryExpression) error {
	switch v.Op {
	case token.AndAnd:
		fail, end := fc.newLabel(), fc.newLabel()
		if err := fc.value(v.Left); err != nil {
			return err
		}
		fc.emit(&vm.Test{})
		fc.emit(&vm.JumpZero{Dest: fail})
		if err := fc.value(v.Right); err != nil {
			return err
		}
		fc.emit(&vm.Test{})
		fc.emit(&vm.JumpZero{Dest: fail})
		fc.emit(&vm.Constant1{})
		fc.emit(&vm.Jump{Dest: end})
		fc.place(fail)
		fc.emit(&vm.Constant0{})
		fc.place(end)
		return nil

	case token.OrOr:
		ok, end := fc.newLabel(), fc.newLabel()
		if err := fc.value(v.Left); err != nil {
			return err
		}
		fc.emit(&vm.Test{})
		fc.emit(&vm.JumpNotZero{Dest: ok})
		if err := fc.value(v.Right); err != nil {
			return err
		}
		fc.emit(&vm.Test{})
		fc.emit(&vm.JumpNotZero{Dest: ok})
		fc.emit(&vm.Constant0{})
		fc.emit(&vm.Jump{Dest: end})
		fc.place(ok)
		fc.emit(&vm.Constant1{})
		fc.place(end)
		return nil

	default:
		if err := fc.value(v.Left); err != nil {
			return err
		}
		if err := fc.value(v.Right); err != nil {
			return err
		}
		fc.emit(&vm.BinOp{Op: v.Op})
		return nil
	}
}

func (fc *funcCompiler) conditional(v *ast.ConditionalExpression) error {
	alt, end := fc.newLabel(), fc.newLabel()
	if err := fc.value(v.Condition); err != nil {
		return err
	}
	fc.emit(&vm.Test{})
	fc.emit(&vm.JumpZero{Dest: alt})
	if err := fc.value(v.Consequent); err != nil {
		return err
	}
	fc.emit(&vm.Jump{Dest: end})
	fc.place(alt)
	if err := fc.value(v.Alternative); err != nil {
		return err
	}
	fc.place(end)
	return nil
}

// ----------------------------------------------------------------------------
// Member chains

// flattenChain unwinds a.b[c].d into the base expression plus the property
// list in source order.
func flattenChain(e *ast.MemberExpression) (ast.Expression, []*ast.MemberExpression) {
	props := []*ast.MemberExpression{}
	var base ast.Expression = e
	for {
		m, ok := base.(*ast.MemberExpression)
		if !ok {
			break
		}
		props = append([]*ast.MemberExpression{m}, props...)
		base = m.Object
	}
	return base, props
}

// emitProperty pushes the property name of one chain link: identifiers
// after '.' as strings, bracketed properties as their computed value.
func (fc *funcCompiler) emitProperty(m *ast.MemberExpression) error {
	if m.Op == '.' {
		ident, ok := m.Property.(*ast.Identifier)
		if !ok {
			return fmt.Errorf("property after '.' must be an identifier")
		}
		fc.emit(&vm.PushString{Value: ident.Name})
		return nil
	}
	return fc.value(m.Property)
}

// memberValue loads a.b.c: the property names go down first (outermost
// deepest), then the base value, then one field load per link.
func (fc *funcCompiler) memberValue(v *ast.MemberExpression) error {
	base, props := flattenChain(v)
	for i := len(props) - 1; i >= 0; i-- {
		if err := fc.emitProperty(props[i]); err != nil {
			return err
		}
	}
	if err := fc.value(base); err != nil {
		return err
	}
	for range props {
		fc.emit(&vm.LoadObjectFieldValue{})
	}
	return nil
}

// ref emits the lvalue of an assignable expression.
func (fc *funcCompiler) ref(e ast.Expression) error {
	switch v := e.(type) {
	case *ast.Identifier:
		fc.emit(&vm.LoadRef{Name: v.Name})
		return nil
	case *ast.MemberExpression:
		base, props := flattenChain(v)
		for i := len(props) - 1; i >= 0; i-- {
			if err := fc.emitProperty(props[i]); err != nil {
				return err
			}
		}
		if err := fc.ref(base); err != nil {
			return err
		}
		for range props {
			fc.emit(&vm.LoadObjectFieldRef{})
		}
		return nil
	default:
		return fmt.Errorf("expression %T is not assignable", e)
	}
}

// ----------------------------------------------------------------------------
// Assignments

var compoundOps = map[token.Type]token.Type{
	token.PlusAssign:     '+',
	token.MinusAssign:    '-',
	token.MultiplyAssign: '*',
	token.DivideAssign:   '/',
	token.ModAssign:      '%',
	token.AndAssign:      '&',
	token.OrAssign:       '|',
	token.XorAssign:      '^',
}

func (fc *funcCompiler) assignment(v *ast.AssignmentExpression, needValue bool) error {
	if v.Op == '=' {
		if err := fc.expression(v.Rhs, true); err != nil {
			return err
		}
	} else {
		op, ok := compoundOps[v.Op]
		if !ok {
			return fmt.Errorf("unhandled assignment operator %s", v.Op)
		}
		if err := fc.value(v.Lhs); err != nil {
			return err
		}
		if err := fc.expression(v.Rhs, true); err != nil {
			return err
		}
		fc.emit(&vm.BinOp{Op: op})
	}
	if err := fc.ref(v.Lhs); err != nil {
		return err
	}
	fc.emit(&vm.StoreRef{})
	if needValue {
		return fc.value(v.Lhs)
	}
	return nil
}

// increment lowers the '++'/'--' forms as a read-modify-write.
func (fc *funcCompiler) increment(v *ast.UnaryExpression, needValue bool) error {
	op := token.Type('+')
	if v.Op == token.MinusMinus {
		op = '-'
	}
	if err := fc.value(v.Argument); err != nil {
		return err
	}
	fc.emit(&vm.Constant1{})
	fc.emit(&vm.BinOp{Op: op})
	if err := fc.ref(v.Argument); err != nil {
		return err
	}
	fc.emit(&vm.StoreRef{})
	if needValue {
		return fc.value(v.Argument)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Calls

func isWaitTill(v *ast.CallExpression) bool {
	ident, ok := v.Callee.(*ast.Identifier)
	return ok && ident.FileReference == "" && ident.Name == "waittill"
}

// waitTill lowers 'obj waittill("event", a, b)': the capture names go down
// as strings, then the event, then the receiver on top.
func (fc *funcCompiler) waitTill(v *ast.CallExpression) error {
	if v.Object == nil {
		return fmt.Errorf("waittill needs an object receiver")
	}
	if len(v.Arguments) == 0 {
		return fmt.Errorf("waittill needs an event name")
	}
	for _, arg := range v.Arguments[1:] {
		ident, ok := arg.(*ast.Identifier)
		if !ok {
			return fmt.Errorf("waittill capture must be an identifier")
		}
		fc.emit(&vm.PushString{Value: ident.Name})
	}
	if err := fc.value(v.Arguments[0]); err != nil {
		return err
	}
	if err := fc.value(v.Object); err != nil {
		return err
	}
	fc.emit(&vm.WaitTill{NumArgs: len(v.Arguments) - 1, IsMethodCall: true})
	return nil
}

// call lowers every other call shape. Operand order on the stack: function
// pointer (pointer calls), then the receiver (method calls), then the
// arguments left to right.
func (fc *funcCompiler) call(v *ast.CallExpression) error {
	callee, isIdent := v.Callee.(*ast.Identifier)
	direct := isIdent && !v.Pointer
	if !direct {
		if err := fc.value(v.Callee); err != nil {
			return err
		}
	}
	if v.Object != nil {
		if err := fc.value(v.Object); err != nil {
			return err
		}
	}
	for _, arg := range v.Arguments {
		if err := fc.expression(arg, true); err != nil {
			return err
		}
	}

	isMethod := v.Object != nil
	switch {
	case !direct:
		fc.emit(&vm.CallFunctionPointer{NumArgs: len(v.Arguments), IsMethodCall: isMethod, IsThreaded: v.Threaded})
	case callee.FileReference != "":
		fc.emit(&vm.CallFunctionFile{
			File: callee.FileReference, Function: callee.Name,
			NumArgs: len(v.Arguments), IsMethodCall: isMethod, IsThreaded: v.Threaded,
		})
	default:
		fc.emit(&vm.CallFunction{
			Function: callee.Name,
			NumArgs:  len(v.Arguments), IsMethodCall: isMethod, IsThreaded: v.Threaded,
		})
	}
	return nil
}
