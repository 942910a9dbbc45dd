package parser_test

import (
	"strings"
	"testing"

	"github.com/kungfooman/gamescript/pkg/ast"
	"github.com/kungfooman/gamescript/pkg/lexer"
	"github.com/kungfooman/gamescript/pkg/parser"
	"github.com/kungfooman/gamescript/pkg/token"
)

func tokenize(t *testing.T, source string) []token.Token {
	t.Helper()
	tokens, err := lexer.New("test", []byte(source), lexer.Options{BackslashIdentifiers: true}).Scan()
	if err != nil {
		t.Fatalf("lexing failed: %v", err)
	}
	return tokens
}

func parse(t *testing.T, source string) *ast.Program {
	t.Helper()
	program, err := parser.NewParser(tokenize(t, source), parser.Options{}).Parse()
	if err != nil {
		t.Fatalf("parsing failed: %v", err)
	}
	return program
}

func parseError(t *testing.T, source string) error {
	t.Helper()
	_, err := parser.NewParser(tokenize(t, source), parser.Options{}).Parse()
	if err == nil {
		t.Fatalf("expected a parse error")
	}
	return err
}

// firstExpression digs the expression out of 'main() { <stmt> }' where the
// statement is either an expression statement or a return.
func firstExpression(t *testing.T, source string) ast.Expression {
	t.Helper()
	program := parse(t, source)
	decl := program.Body[0].(*ast.FunctionDeclaration)
	switch stmt := decl.Body.Body[0].(type) {
	case *ast.ExpressionStatement:
		return stmt.Expression
	case *ast.ReturnStatement:
		return stmt.Argument
	}
	t.Fatalf("unexpected first statement")
	return nil
}

func TestPrecedence(t *testing.T) {
	t.Run("Multiplication before addition", func(t *testing.T) {
		expr := firstExpression(t, `main() { return 1 + 2 * 3; }`).(*ast.BinaryExpression)
		if expr.Op != '+' {
			t.Fatalf("expected '+' at the root, got %s", expr.Op)
		}
		right := expr.Right.(*ast.BinaryExpression)
		if right.Op != '*' {
			t.Fatalf("expected '*' under the addition, got %s", right.Op)
		}
	})

	t.Run("Logical and binds tighter than or", func(t *testing.T) {
		expr := firstExpression(t, `main() { return a || b && c; }`).(*ast.BinaryExpression)
		if expr.Op != token.OrOr {
			t.Fatalf("expected '||' at the root, got %s", expr.Op)
		}
		right := expr.Right.(*ast.BinaryExpression)
		if right.Op != token.AndAnd {
			t.Fatalf("expected '&&' on the right, got %s", right.Op)
		}
	})

	t.Run("Ternary condition sits at logical-or level", func(t *testing.T) {
		expr := firstExpression(t, `main() { return a || b ? c : d; }`).(*ast.ConditionalExpression)
		cond := expr.Condition.(*ast.BinaryExpression)
		if cond.Op != token.OrOr {
			t.Fatalf("expected '||' as the condition, got %s", cond.Op)
		}
	})

	t.Run("Assignment chains nest rhs-first", func(t *testing.T) {
		expr := firstExpression(t, `main() { a = b = c; }`).(*ast.AssignmentExpression)
		rhs := expr.Rhs.(*ast.AssignmentExpression)
		if rhs.Lhs.(*ast.Identifier).Name != "b" {
			t.Fatalf("expected 'b = c' nested on the right")
		}
		if rhs.Rhs.(*ast.Identifier).Name != "c" {
			t.Fatalf("expected 'c' at the chain end")
		}
	})

	t.Run("Shift sits between additive and relational", func(t *testing.T) {
		expr := firstExpression(t, `main() { return a < b << c + d; }`).(*ast.BinaryExpression)
		if expr.Op != '<' {
			t.Fatalf("expected '<' at the root, got %s", expr.Op)
		}
		shift := expr.Right.(*ast.BinaryExpression)
		if shift.Op != token.Lsht {
			t.Fatalf("expected '<<' below, got %s", shift.Op)
		}
	})
}

func TestVectorLiteral(t *testing.T) {
	expr := firstExpression(t, `main() { v = (1, 2, 3); }`).(*ast.AssignmentExpression)
	vec := expr.Rhs.(*ast.VectorExpression)
	if len(vec.Elements) != 3 {
		t.Fatalf("expected 3 vector elements, got %d", len(vec.Elements))
	}

	// A parenthesized expression with no comma stays a plain group.
	grouped := firstExpression(t, `main() { v = (1); }`).(*ast.AssignmentExpression)
	if _, ok := grouped.Rhs.(*ast.Literal); !ok {
		t.Fatalf("expected plain literal, got %T", grouped.Rhs)
	}
}

func TestMemberChains(t *testing.T) {
	expr := firstExpression(t, `main() { return a.b[c].d; }`).(*ast.MemberExpression)
	if expr.Op != '.' {
		t.Fatalf("outermost link should be '.', got %s", expr.Op)
	}
	index := expr.Object.(*ast.MemberExpression)
	if index.Op != '[' {
		t.Fatalf("middle link should be '[', got %s", index.Op)
	}
	inner := index.Object.(*ast.MemberExpression)
	if inner.Property.(*ast.Identifier).Name != "b" {
		t.Fatalf("innermost property should be 'b'")
	}
}

func TestCallShapes(t *testing.T) {
	t.Run("Direct call", func(t *testing.T) {
		call := firstExpression(t, `main() { f(1, 2); }`).(*ast.CallExpression)
		if call.Threaded || call.Pointer || call.Object != nil || len(call.Arguments) != 2 {
			t.Fatalf("unexpected call shape: %+v", call)
		}
	})

	t.Run("Threaded call", func(t *testing.T) {
		call := firstExpression(t, `main() { thread f(); }`).(*ast.CallExpression)
		if !call.Threaded || call.Pointer {
			t.Fatalf("expected a threaded direct call")
		}
	})

	t.Run("Method call", func(t *testing.T) {
		call := firstExpression(t, `main() { obj f(); }`).(*ast.CallExpression)
		if call.Object == nil || call.Object.(*ast.Identifier).Name != "obj" {
			t.Fatalf("expected 'obj' as receiver")
		}
	})

	t.Run("Threaded method call", func(t *testing.T) {
		call := firstExpression(t, `main() { self thread f(); }`).(*ast.CallExpression)
		if !call.Threaded || call.Object == nil {
			t.Fatalf("expected a threaded method call")
		}
	})

	t.Run("Function pointer call", func(t *testing.T) {
		call := firstExpression(t, `main() { x = [[f]](5); }`).(*ast.AssignmentExpression).Rhs.(*ast.CallExpression)
		if !call.Pointer || call.Threaded {
			t.Fatalf("expected a pointer call")
		}
	})

	t.Run("Threaded function pointer call", func(t *testing.T) {
		call := firstExpression(t, `main() { thread [[f]](5); }`).(*ast.CallExpression)
		if !call.Pointer || !call.Threaded {
			t.Fatalf("expected a threaded pointer call")
		}
	})

	t.Run("Method pointer call", func(t *testing.T) {
		call := firstExpression(t, `main() { obj [[f]](); }`).(*ast.CallExpression)
		if !call.Pointer || call.Object == nil {
			t.Fatalf("expected a pointer call with receiver")
		}
	})

	t.Run("File qualified call", func(t *testing.T) {
		call := firstExpression(t, `main() { other::helper(); }`).(*ast.CallExpression)
		callee := call.Callee.(*ast.Identifier)
		if callee.FileReference != "other" || callee.Name != "helper" {
			t.Fatalf("expected 'other::helper', got %+v", callee)
		}
	})
}

func TestFunctionPointerLiteral(t *testing.T) {
	expr := firstExpression(t, `main() { f = ::worker; }`).(*ast.AssignmentExpression)
	fp := expr.Rhs.(*ast.FunctionPointer)
	if fp.Identifier.Name != "worker" {
		t.Fatalf("expected '::worker'")
	}

	qualified := firstExpression(t, `main() { f = ::some\path::worker; }`).(*ast.AssignmentExpression)
	qfp := qualified.Rhs.(*ast.FunctionPointer)
	if qfp.Identifier.FileReference != `some\path` || qfp.Identifier.Name != "worker" {
		t.Fatalf("expected qualified pointer, got %+v", qfp.Identifier)
	}
}

func TestSwitchFallThroughSharesConsequents(t *testing.T) {
	program := parse(t, `main() { switch(v) { case 1: case 2: a = 1; break; case 3: b = 2; } }`)
	decl := program.Body[0].(*ast.FunctionDeclaration)
	sw := decl.Body.Body[0].(*ast.SwitchStatement)

	if len(sw.Cases) != 3 {
		t.Fatalf("expected 3 cases, got %d", len(sw.Cases))
	}
	if sw.Cases[0].Consequent != sw.Cases[1].Consequent {
		t.Fatalf("adjacent cases should share their consequent list")
	}
	if sw.Cases[1].Consequent == sw.Cases[2].Consequent {
		t.Fatalf("cases across a break should not share")
	}
	// The break itself is never recorded.
	for _, c := range sw.Cases {
		for _, stmt := range *c.Consequent {
			if _, isBreak := stmt.(*ast.BreakStatement); isBreak {
				t.Fatalf("break leaked into a consequent list")
			}
		}
	}
	if len(*sw.Cases[0].Consequent) != 1 || len(*sw.Cases[2].Consequent) != 1 {
		t.Fatalf("unexpected consequent sizes")
	}
}

func TestSwitchCaseRequiresLiteral(t *testing.T) {
	parseError(t, `main() { switch(v) { case x: a = 1; } }`)
}

func TestDeveloperBlocks(t *testing.T) {
	source := `main() { /# a = 1; #/ b = 2; }`

	plain := parse(t, source)
	block := plain.Body[0].(*ast.FunctionDeclaration).Body.Body[0].(*ast.DeveloperBlock)
	if len(block.Body) != 0 {
		t.Fatalf("developer block should be discarded outside developer mode")
	}

	dev, err := parser.NewParser(tokenize(t, source), parser.Options{Developer: true}).Parse()
	if err != nil {
		t.Fatalf("parsing failed: %v", err)
	}
	devBlock := dev.Body[0].(*ast.FunctionDeclaration).Body.Body[0].(*ast.DeveloperBlock)
	if len(devBlock.Body) != 1 {
		t.Fatalf("developer block should be retained in developer mode")
	}
}

func TestAnimtreeDirective(t *testing.T) {
	expr := firstExpression(t, "#using_animtree(\"generic\");\nmain() { a = #animtree; }").(*ast.AssignmentExpression)
	lit := expr.Rhs.(*ast.Literal)
	if lit.Kind != ast.LiteralString || lit.Value != "generic" {
		t.Fatalf("expected the animtree string, got %+v", lit)
	}
}

func TestAnimationAndLocalizedLiterals(t *testing.T) {
	anim := firstExpression(t, `main() { a = %walk_cycle; }`).(*ast.AssignmentExpression)
	if lit := anim.Rhs.(*ast.Literal); lit.Kind != ast.LiteralAnimation || lit.Value != "walk_cycle" {
		t.Fatalf("expected animation literal, got %+v", lit)
	}

	loc := firstExpression(t, `main() { a = &"MENU_TITLE"; }`).(*ast.AssignmentExpression)
	if ls := loc.Rhs.(*ast.LocalizedString); ls.Reference != "MENU_TITLE" {
		t.Fatalf("expected localized string, got %+v", ls)
	}
}

func TestArrayLiteral(t *testing.T) {
	expr := firstExpression(t, `main() { a = [1, 2, 3]; }`).(*ast.AssignmentExpression)
	arr := expr.Rhs.(*ast.ArrayExpression)
	if len(arr.Elements) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(arr.Elements))
	}

	empty := firstExpression(t, `main() { a = []; }`).(*ast.AssignmentExpression)
	if len(empty.Rhs.(*ast.ArrayExpression).Elements) != 0 {
		t.Fatalf("expected an empty array")
	}

	parseError(t, `main() { a = [1, 2,]; }`)
}

func TestParseErrors(t *testing.T) {
	t.Run("Trailing comma in call", func(t *testing.T) {
		parseError(t, `main() { f(1,); }`)
	})
	t.Run("Stray thread keyword", func(t *testing.T) {
		parseError(t, `main() { a = x thread; }`)
	})
	t.Run("Do while is unhandled", func(t *testing.T) {
		err := parseError(t, `main() { do; }`)
		if got := err.Error(); !contains(got, "unhandled statement do while") {
			t.Fatalf("unexpected error: %s", got)
		}
	})
	t.Run("Missing double bracket close", func(t *testing.T) {
		err := parseError(t, `main() { x = [[f](); }`)
		if got := err.Error(); !contains(got, "]]") {
			t.Fatalf("unexpected error: %s", got)
		}
	})
	t.Run("Unknown directive", func(t *testing.T) {
		parseError(t, `#using_spline("x"); main() { }`)
	})
	t.Run("Position is reported", func(t *testing.T) {
		err := parseError(t, "main()\n{\n  a = ;\n}")
		perr, ok := err.(*parser.Error)
		if !ok {
			t.Fatalf("expected a *parser.Error, got %T", err)
		}
		if perr.File != "test" || perr.Line != 3 {
			t.Fatalf("expected test:3, got %s:%d", perr.File, perr.Line)
		}
	})
}

func TestASTIsAcyclicAndReachable(t *testing.T) {
	program := parse(t, `
	helper(a, b) { return a + b; }
	main() { for (i = 0; i < 3; i++) { if (i) x = helper(i, [1]); else x = (i, i, i); } switch(x) { case 1: break; default: } }
	`)
	seen := map[ast.Node]bool{}
	ast.Walk(program, func(n ast.Node) bool {
		if seen[n] {
			// Shared switch consequents alias statements, anything else
			// appearing twice would be a cycle.
			return false
		}
		seen[n] = true
		return true
	})
	if len(seen) < 10 {
		t.Fatalf("walk visited suspiciously few nodes: %d", len(seen))
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
