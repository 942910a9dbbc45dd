package ast

import (
	"fmt"
	"io"
)

// ----------------------------------------------------------------------------
// Printer

// This section defines the debug printer for the node hierarchy.
//
// The output is an indentation based dump, one node per line, meant for
// eyeballing a tree while working on the parser or the lowering. It is not
// a source formatter and makes no attempt to round-trip.

type Printer interface {
	Print(format string, args ...interface{})
	Indent()
	Unindent()
}

// Printer writing tab indented lines to an io.Writer.
type BasicPrinter struct {
	out    io.Writer
	indent int
}

func NewBasicPrinter(out io.Writer) *BasicPrinter {
	return &BasicPrinter{out: out}
}

func (p *BasicPrinter) Print(format string, args ...interface{}) {
	for i := 0; i < p.indent; i++ {
		fmt.Fprint(p.out, "\t")
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *BasicPrinter) Indent() { p.indent++ }

func (p *BasicPrinter) Unindent() {
	if p.indent > 0 {
		p.indent--
	}
}

// Dumps the tree rooted at n to out.
func Fprint(out io.Writer, n Node) {
	printNode(NewBasicPrinter(out), n)
}

func printChild(p Printer, label string, n Node) {
	p.Print("%s:", label)
	p.Indent()
	printNode(p, n)
	p.Unindent()
}

func printNode(p Printer, n Node) {
	switch v := n.(type) {
	case nil:
		p.Print("(none)")
	case *Program:
		p.Print("program:")
		p.Indent()
		for _, s := range v.Body {
			printNode(p, s)
		}
		p.Unindent()
	case *Identifier:
		if v.FileReference != "" {
			p.Print("identifier %s::%s", v.FileReference, v.Name)
		} else {
			p.Print("identifier %s", v.Name)
		}
	case *Literal:
		p.Print("literal kind: %d, value: %s", v.Kind, v.Value)
	case *LocalizedString:
		p.Print("localized string %s", v.Reference)
	case *FunctionPointer:
		p.Print("function pointer:")
		p.Indent()
		printNode(p, v.Identifier)
		p.Unindent()
	case *UnaryExpression:
		p.Print("unary expression op: %s, prefix: %t", v.Op, v.Prefix)
		printChild(p, "argument", v.Argument)
	case *BinaryExpression:
		p.Print("binary expression op: %s", v.Op)
		printChild(p, "left", v.Left)
		printChild(p, "right", v.Right)
	case *ConditionalExpression:
		p.Print("conditional expression:")
		printChild(p, "condition", v.Condition)
		printChild(p, "consequent", v.Consequent)
		printChild(p, "alternative", v.Alternative)
	case *MemberExpression:
		p.Print("member expression op: %s", v.Op)
		printChild(p, "object", v.Object)
		printChild(p, "property", v.Property)
	case *CallExpression:
		p.Print("call expression threaded: %t", v.Threaded)
		if v.Object != nil {
			printChild(p, "object", v.Object)
		}
		printChild(p, "callee", v.Callee)
		for i, a := range v.Arguments {
			printChild(p, fmt.Sprintf("argument %d", i), a)
		}
	case *AssignmentExpression:
		p.Print("assignment expression op: %s", v.Op)
		printChild(p, "lhs", v.Lhs)
		printChild(p, "rhs", v.Rhs)
	case *VectorExpression:
		p.Print("vector expression:")
		p.Indent()
		for _, e := range v.Elements {
			printNode(p, e)
		}
		p.Unindent()
	case *ArrayExpression:
		p.Print("array expression:")
		p.Indent()
		for _, e := range v.Elements {
			printNode(p, e)
		}
		p.Unindent()
	case *EmptyStatement:
		p.Print("empty statement")
	case *BlockStatement:
		p.Print("block statement:")
		p.Indent()
		for _, s := range v.Body {
			printNode(p, s)
		}
		p.Unindent()
	case *DeveloperBlock:
		p.Print("developer block:")
		p.Indent()
		for _, s := range v.Body {
			printNode(p, s)
		}
		p.Unindent()
	case *ExpressionStatement:
		p.Print("expression statement:")
		p.Indent()
		printNode(p, v.Expression)
		p.Unindent()
	case *IfStatement:
		p.Print("if statement:")
		printChild(p, "test", v.Test)
		printChild(p, "consequent", v.Consequent)
		if v.Alternative != nil {
			printChild(p, "alternative", v.Alternative)
		}
	case *WhileStatement:
		p.Print("while statement:")
		printChild(p, "test", v.Test)
		printChild(p, "body", v.Body)
	case *ForStatement:
		p.Print("for statement:")
		if v.Init != nil {
			printChild(p, "init", v.Init)
		}
		if v.Test != nil {
			printChild(p, "test", v.Test)
		}
		if v.Update != nil {
			printChild(p, "update", v.Update)
		}
		printChild(p, "body", v.Body)
	case *ReturnStatement:
		p.Print("return statement:")
		if v.Argument != nil {
			printChild(p, "argument", v.Argument)
		}
	case *BreakStatement:
		p.Print("break statement")
	case *ContinueStatement:
		p.Print("continue statement")
	case *WaitStatement:
		p.Print("wait statement:")
		printChild(p, "duration", v.Duration)
	case *WaitTillFrameEndStatement:
		p.Print("waittillframeend statement")
	case *SwitchStatement:
		p.Print("switch statement:")
		printChild(p, "discriminant", v.Discriminant)
		for _, c := range v.Cases {
			if c.Test != nil {
				printChild(p, "case", c.Test)
			} else {
				p.Print("default:")
			}
			p.Indent()
			for _, s := range *c.Consequent {
				printNode(p, s)
			}
			p.Unindent()
		}
	case *FunctionDeclaration:
		p.Print("function declaration %s:", v.Name)
		p.Indent()
		for _, param := range v.Parameters {
			printNode(p, param)
		}
		printNode(p, v.Body)
		p.Unindent()
	default:
		p.Print("unknown node %T", n)
	}
}
