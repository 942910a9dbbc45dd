package compiler

import (
	"fmt"
	"strconv"

	"github.com/kungfooman/gamescript/pkg/ast"
	"github.com/kungfooman/gamescript/pkg/token"
	"github.com/kungfooman/gamescript/pkg/vm"
)

// ----------------------------------------------------------------------------
// Statement lowering

// Statements lower to straight line code plus labels. Loops push their
// break/continue targets so the jump statements inside the body resolve to
// the innermost enclosing construct, a switch pushes only a break target.

func (fc *funcCompiler) statement(s ast.Statement) error {
	switch v := s.(type) {
	case *ast.EmptyStatement:
		return nil

	case *ast.BlockStatement:
		for _, inner := range v.Body {
			if err := fc.statement(inner); err != nil {
				return err
			}
		}
		return nil

	case *ast.DeveloperBlock:
		// Lowered like a plain block. Its body is empty unless the
		// parser ran in developer mode.
		for _, inner := range v.Body {
			if err := fc.statement(inner); err != nil {
				return err
			}
		}
		return nil

	case *ast.ExpressionStatement:
		return fc.expression(v.Expression, false)

	case *ast.IfStatement:
		return fc.ifStatement(v)

	case *ast.WhileStatement:
		return fc.whileStatement(v)

	case *ast.ForStatement:
		return fc.forStatement(v)

	case *ast.ReturnStatement:
		if v.Argument != nil {
			if err := fc.expression(v.Argument, true); err != nil {
				return err
			}
		} else {
			fc.emit(&vm.PushUndefined{})
		}
		fc.emit(&vm.Ret{})
		return nil

	case *ast.BreakStatement:
		if len(fc.breaks) == 0 {
			return fmt.Errorf("break outside of loop or switch")
		}
		fc.emit(&vm.Jump{Dest: fc.breaks[len(fc.breaks)-1]})
		return nil

	case *ast.ContinueStatement:
		if len(fc.continues) == 0 {
			return fmt.Errorf("continue outside of loop")
		}
		fc.emit(&vm.Jump{Dest: fc.continues[len(fc.continues)-1]})
		return nil

	case *ast.WaitStatement:
		if err := fc.expression(v.Duration, true); err != nil {
			return err
		}
		fc.emit(&vm.Wait{})
		return nil

	case *ast.WaitTillFrameEndStatement:
		fc.emit(&vm.WaitTillFrameEnd{})
		return nil

	case *ast.SwitchStatement:
		return fc.switchStatement(v)

	default:
		return fmt.Errorf("unhandled statement %T", s)
	}
}

func (fc *funcCompiler) ifStatement(v *ast.IfStatement) error {
	if err := fc.expression(v.Test, true); err != nil {
		return err
	}
	fc.emit(&vm.Test{})
	skip := fc.newLabel()
	fc.emit(&vm.JumpZero{Dest: skip})
	if err := fc.statement(v.Consequent); err != nil {
		return err
	}
	if v.Alternative == nil {
		fc.place(skip)
		return nil
	}
	end := fc.newLabel()
	fc.emit(&vm.Jump{Dest: end})
	fc.place(skip)
	if err := fc.statement(v.Alternative); err != nil {
		return err
	}
	fc.place(end)
	return nil
}

func (fc *funcCompiler) whileStatement(v *ast.WhileStatement) error {
	start, end := fc.newLabel(), fc.newLabel()
	fc.place(start)
	if err := fc.expression(v.Test, true); err != nil {
		return err
	}
	fc.emit(&vm.Test{})
	fc.emit(&vm.JumpZero{Dest: end})

	fc.breaks = append(fc.breaks, end)
	fc.continues = append(fc.continues, start)
	err := fc.statement(v.Body)
	fc.breaks = fc.breaks[:len(fc.breaks)-1]
	fc.continues = fc.continues[:len(fc.continues)-1]
	if err != nil {
		return err
	}

	fc.emit(&vm.Jump{Dest: start})
	fc.place(end)
	return nil
}

func (fc *funcCompiler) forStatement(v *ast.ForStatement) error {
	if v.Init != nil {
		if err := fc.expression(v.Init, false); err != nil {
			return err
		}
	}
	start, cont, end := fc.newLabel(), fc.newLabel(), fc.newLabel()
	fc.place(start)
	if v.Test != nil {
		if err := fc.expression(v.Test, true); err != nil {
			return err
		}
		fc.emit(&vm.Test{})
		fc.emit(&vm.JumpZero{Dest: end})
	}

	fc.breaks = append(fc.breaks, end)
	fc.continues = append(fc.continues, cont)
	err := fc.statement(v.Body)
	fc.breaks = fc.breaks[:len(fc.breaks)-1]
	fc.continues = fc.continues[:len(fc.continues)-1]
	if err != nil {
		return err
	}

	fc.place(cont)
	if v.Update != nil {
		if err := fc.expression(v.Update, false); err != nil {
			return err
		}
	}
	fc.emit(&vm.Jump{Dest: start})
	fc.place(end)
	return nil
}

// switchStatement evaluates the discriminant once into a hidden local and
// compares it against every case label in order. Fall-through needs no
// special handling here: the parser already shares the consequent tail
// between the cases it flows through, so each case body is self contained.
func (fc *funcCompiler) switchStatement(v *ast.SwitchStatement) error {
	tmp := fc.tempVar()
	if err := fc.expression(v.Discriminant, true); err != nil {
		return err
	}
	fc.emit(&vm.LoadRef{Name: tmp})
	fc.emit(&vm.StoreRef{})

	end := fc.newLabel()
	labels := make([]*vm.Label, len(v.Cases))
	var defaultLabel *vm.Label
	for i, sc := range v.Cases {
		labels[i] = fc.newLabel()
		if sc.Test == nil {
			defaultLabel = labels[i]
			continue
		}
		fc.emit(&vm.LoadValue{Name: tmp})
		if err := fc.literal(sc.Test); err != nil {
			return err
		}
		fc.emit(&vm.BinOp{Op: token.Eq})
		fc.emit(&vm.Test{})
		fc.emit(&vm.JumpNotZero{Dest: labels[i]})
	}
	if defaultLabel != nil {
		fc.emit(&vm.Jump{Dest: defaultLabel})
	} else {
		fc.emit(&vm.Jump{Dest: end})
	}

	fc.breaks = append(fc.breaks, end)
	for i, sc := range v.Cases {
		fc.place(labels[i])
		for _, inner := range *sc.Consequent {
			if err := fc.statement(inner); err != nil {
				fc.breaks = fc.breaks[:len(fc.breaks)-1]
				return err
			}
		}
		fc.emit(&vm.Jump{Dest: end})
	}
	fc.breaks = fc.breaks[:len(fc.breaks)-1]

	fc.place(end)
	return nil
}

func (fc *funcCompiler) literal(lit *ast.Literal) error {
	switch lit.Kind {
	case ast.LiteralInteger:
		n, err := strconv.ParseInt(lit.Value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid integer literal '%s'", lit.Value)
		}
		fc.emit(&vm.PushInteger{Value: vm.Integer(n)})
	case ast.LiteralNumber:
		n, err := strconv.ParseFloat(lit.Value, 32)
		if err != nil {
			return fmt.Errorf("invalid number literal '%s'", lit.Value)
		}
		fc.emit(&vm.PushNumber{Value: vm.Number(n)})
	case ast.LiteralString:
		fc.emit(&vm.PushString{Value: lit.Value})
	case ast.LiteralUndefined:
		fc.emit(&vm.PushUndefined{})
	case ast.LiteralAnimation:
		fc.emit(&vm.PushAnimationString{Value: lit.Value})
	default:
		return fmt.Errorf("unhandled literal kind %d", lit.Kind)
	}
	return nil
}
