package parser

import (
	"fmt"

	"github.com/kungfooman/gamescript/pkg/ast"
	"github.com/kungfooman/gamescript/pkg/token"
)

// ----------------------------------------------------------------------------
// Parse errors

// A parse error carries the token kind the parser wanted, the kind it found
// and the source position. The first error aborts the parse, there is no
// recovery.
type Error struct {
	Expected token.Type
	Got      token.Type
	File     string
	Line     int
	Msg      string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s:%d: expected token '%s', got '%s'", e.File, e.Line, e.Expected, e.Got)
}

// ----------------------------------------------------------------------------
// Parser

// This section defines the Parser for the gamescript dialect.
//
// A single pass recursive descent over the token cursor. Each precedence
// level is its own production that parses the next higher level and then
// loops while its operator is present, the factor level dispatches on the
// upcoming token. Errors are raised as panics internally and converted back
// to an 'error' at the Parse boundary so the descent itself stays free of
// error plumbing.
type Parser struct {
	cursor   *token.Cursor
	tok      token.Token // most recently accepted token
	animtree string      // argument of the latest '#using_animtree' directive
	opts     Options
}

type Options struct {
	// Retain '/# ... #/' blocks in the tree. They are always parsed to
	// keep the cursor honest, the flag only decides whether their body
	// survives.
	Developer bool
}

// Initializes and returns to the caller a brand new 'Parser' over the given
// token stream (as produced by the preprocessor).
func NewParser(tokens []token.Token, opts Options) *Parser {
	return &Parser{cursor: token.NewCursor(tokens), opts: opts}
}

// Parser entrypoint, consumes the whole stream and returns the Program.
func (p *Parser) Parse() (prog *ast.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(*Error); ok {
				prog, err = nil, perr
				return
			}
			panic(r)
		}
	}()
	return p.program(), nil
}

func (p *Parser) fail(msg string, args ...interface{}) {
	t := p.cursor.Peek()
	panic(&Error{File: t.File, Line: t.Line, Msg: fmt.Sprintf(msg, args...)})
}

// Consumes the next token when it has the wanted type.
func (p *Parser) accept(tt token.Type) bool {
	if p.cursor.Peek().Type != tt {
		return false
	}
	p.tok = p.cursor.Read()
	return true
}

func (p *Parser) expect(tt token.Type) {
	if !p.accept(tt) {
		t := p.cursor.Peek()
		panic(&Error{Expected: tt, Got: t.Type, File: t.File, Line: t.Line})
	}
}

func (p *Parser) peek() token.Token {
	return p.cursor.Peek()
}

// Consumes a run of single character tokens spelled out in s, all or
// nothing. Used for the pseudo-tokens '[[', ']]', '/#' and '#/'.
func (p *Parser) acceptTokenString(s string) bool {
	p.cursor.Save()
	for _, ch := range s {
		if !p.accept(token.Type(ch)) {
			p.cursor.Restore()
			return false
		}
	}
	p.cursor.Pop()
	return true
}

// Consumes an identifier token only when its lexeme matches.
func (p *Parser) acceptIdentifierString(s string) bool {
	if !p.accept(token.Identifier) {
		return false
	}
	if p.tok.Lexeme != s {
		p.cursor.Unread()
		return false
	}
	return true
}

func (p *Parser) expectIdentifierString(s string) {
	p.expect(token.Identifier)
	if p.tok.Lexeme != s {
		p.fail("expected identifier '%s'", s)
	}
}

// ----------------------------------------------------------------------------
// Expressions

// identifier parses 'name' or the qualified 'file::name' form.
func (p *Parser) identifier() *ast.Identifier {
	p.expect(token.Identifier)
	name := p.tok.Lexeme
	if p.accept(token.DoubleColon) {
		p.expect(token.Identifier)
		return &ast.Identifier{Name: p.tok.Lexeme, FileReference: name}
	}
	return &ast.Identifier{Name: name}
}

// factorIdentifier handles everything an identifier can open: plain
// references, member and index chains, direct calls, threaded calls and
// method calls with either a named or a '[[ expr ]]' callee.
func (p *Parser) factorIdentifier() ast.Expression {
	if p.acceptIdentifierString("undefined") {
		return &ast.Literal{Kind: ast.LiteralUndefined, Value: "undefined"}
	}
	threaded := p.acceptIdentifierString("thread")

	// threaded function pointer call, e.g. thread [[ a ]]()
	if threaded && p.acceptTokenString("[[") {
		return p.functionPointerCall(true)
	}

	var expr ast.Expression = p.identifier()
	expr = p.memberChain(expr)

	if p.accept('(') {
		expr = p.callExpression(expr, threaded)
	} else if threaded {
		p.fail("unexpected thread keyword")
	}

	// The expression so far may turn out to be the receiver of a method
	// call: 'obj [thread] callee(...)' or 'obj [thread] [[ expr ]](...)'.
	threaded = p.acceptIdentifierString("thread")
	next := p.peek()
	if p.acceptTokenString("[[") {
		callee := p.factorIdentifier()
		if !p.acceptTokenString("]]") {
			p.fail("expected ]]")
		}
		p.expect('(')
		call := p.callExpression(callee, threaded)
		call.Pointer = true
		call.Object = expr
		return call
	} else if next.Type == token.Identifier {
		callee := p.identifier()
		p.expect('(')
		call := p.callExpression(callee, threaded)
		call.Object = expr
		return call
	} else if threaded {
		p.fail("unexpected thread keyword")
	}
	return expr
}

// memberChain consumes any run of '.ident' and '[expr]' suffixes. It stops
// in front of '[[', which opens a '[[ expr ]]' call on the chain instead.
func (p *Parser) memberChain(expr ast.Expression) ast.Expression {
	for {
		last := p.tok
		p.cursor.Save()
		pointerCall := p.acceptTokenString("[[")
		p.cursor.Restore()
		p.tok = last
		if pointerCall {
			return expr
		}
		if p.accept('[') {
			prop := p.expression()
			p.expect(']')
			expr = &ast.MemberExpression{Op: '[', Object: expr, Property: prop}
		} else if p.accept('.') {
			expr = &ast.MemberExpression{Op: '.', Object: expr, Property: p.identifier()}
		} else {
			return expr
		}
	}
}

// factorParentheses parses either a grouped expression or, when a comma
// follows the first element, a three element vector literal.
func (p *Parser) factorParentheses() ast.Expression {
	p.expect('(')
	first := p.expression()
	if p.accept(',') {
		elements := []ast.Expression{first, p.expression()}
		p.expect(',')
		elements = append(elements, p.expression())
		p.expect(')')
		return &ast.VectorExpression{Elements: elements}
	}
	p.expect(')')
	return first
}

func (p *Parser) factorLocalizedString() ast.Expression {
	p.expect('&')
	p.expect(token.String)
	return &ast.LocalizedString{Reference: p.tok.Lexeme}
}

func (p *Parser) factorFunctionPointer() ast.Expression {
	p.expect(token.DoubleColon)
	return &ast.FunctionPointer{Identifier: p.identifier()}
}

func (p *Parser) factorPercentSymbol() ast.Expression {
	p.expect('%')
	p.expect(token.Identifier)
	return &ast.Literal{Kind: ast.LiteralAnimation, Value: p.tok.Lexeme}
}

// factorPound resolves '#animtree' to the string set by the latest
// '#using_animtree' directive.
func (p *Parser) factorPound() ast.Expression {
	p.expect('#')
	p.expect(token.Identifier)
	if p.tok.Lexeme != "animtree" {
		p.fail("expected animtree after #")
	}
	return &ast.Literal{Kind: ast.LiteralString, Value: p.animtree}
}

func (p *Parser) factorArrayExpression() ast.Expression {
	p.expect('[')
	n := &ast.ArrayExpression{}
	if p.accept(']') {
		return n
	}
	for {
		n.Elements = append(n.Elements, p.expression())
		if !p.accept(',') {
			break
		}
	}
	p.expect(']')
	return n
}

func (p *Parser) factorInteger() *ast.Literal {
	p.expect(token.Integer)
	return &ast.Literal{Kind: ast.LiteralInteger, Value: p.tok.Lexeme}
}

func (p *Parser) factorNumber() *ast.Literal {
	p.expect(token.Number)
	return &ast.Literal{Kind: ast.LiteralNumber, Value: p.tok.Lexeme}
}

func (p *Parser) factorString() *ast.Literal {
	p.expect(token.String)
	return &ast.Literal{Kind: ast.LiteralString, Value: p.tok.Lexeme}
}

func (p *Parser) factorUnaryExpression() ast.Expression {
	p.tok = p.cursor.Read()
	op := p.tok.Type
	return &ast.UnaryExpression{Op: op, Prefix: true, Argument: p.expression()}
}

// factor dispatches on the upcoming token.
func (p *Parser) factor() ast.Expression {
	if p.acceptTokenString("[[") {
		return p.regularFunctionPointerCall()
	}
	switch t := p.peek(); t.Type {
	case token.Identifier:
		return p.factorIdentifier()
	case '(':
		return p.factorParentheses()
	case token.Integer:
		return p.factorInteger()
	case token.Number:
		return p.factorNumber()
	case token.String:
		return p.factorString()
	case '-', '!', '~':
		return p.factorUnaryExpression()
	case '&':
		return p.factorLocalizedString()
	case '[':
		return p.factorArrayExpression()
	case '#':
		return p.factorPound()
	case '%':
		return p.factorPercentSymbol()
	case token.DoubleColon:
		return p.factorFunctionPointer()
	default:
		p.fail("invalid factor '%s'", t.Type)
		return nil
	}
}

// regularFunctionPointerCall parses the tail of '[[ expr ]] ( args )' once
// the opening '[[' has been consumed.
func (p *Parser) regularFunctionPointerCall() *ast.CallExpression {
	return p.functionPointerCall(false)
}

func (p *Parser) functionPointerCall(threaded bool) *ast.CallExpression {
	callee := p.factorIdentifier()
	if !p.acceptTokenString("]]") {
		p.fail("expected ]]")
	}
	p.expect('(')
	call := p.callExpression(callee, threaded)
	call.Pointer = true
	return call
}

// callExpression parses the argument list after the opening '(' has been
// consumed. A trailing comma before ')' is rejected.
func (p *Parser) callExpression(callee ast.Expression, threaded bool) *ast.CallExpression {
	call := &ast.CallExpression{Callee: callee, Threaded: threaded}
	if p.accept(')') {
		return call
	}
	for {
		call.Arguments = append(call.Arguments, p.expression())
		if !p.accept(',') {
			break
		}
	}
	p.expect(')')
	return call
}

func (p *Parser) postfix() ast.Expression {
	expr := p.factor()
	if p.accept(token.PlusPlus) || p.accept(token.MinusMinus) {
		return &ast.UnaryExpression{Op: p.tok.Type, Prefix: false, Argument: expr}
	}
	return expr
}

func (p *Parser) memberExpression() ast.Expression {
	expr := p.postfix()
	for p.accept('[') || p.accept('.') {
		op := p.tok.Type
		prop := p.postfix()
		if op == '[' {
			p.expect(']')
		}
		expr = &ast.MemberExpression{Op: op, Object: expr, Property: prop}
	}
	return expr
}

// The binary precedence ladder, lowest productions call the next higher
// ones and loop on their own operators.

func (p *Parser) term() ast.Expression {
	expr := p.memberExpression()
	for p.accept('/') || p.accept('*') || p.accept('%') {
		op := p.tok.Type
		expr = &ast.BinaryExpression{Op: op, Left: expr, Right: p.memberExpression()}
	}
	return expr
}

func (p *Parser) addAndSubtract() ast.Expression {
	expr := p.term()
	for p.accept('+') || p.accept('-') {
		op := p.tok.Type
		expr = &ast.BinaryExpression{Op: op, Left: expr, Right: p.term()}
	}
	return expr
}

func (p *Parser) bitwiseShift() ast.Expression {
	expr := p.addAndSubtract()
	for p.accept(token.Lsht) || p.accept(token.Rsht) {
		op := p.tok.Type
		expr = &ast.BinaryExpression{Op: op, Left: expr, Right: p.addAndSubtract()}
	}
	return expr
}

func (p *Parser) relational() ast.Expression {
	expr := p.bitwiseShift()
	for p.accept('>') || p.accept('<') || p.accept(token.Eq) || p.accept(token.Leq) ||
		p.accept(token.Neq) || p.accept(token.Geq) {
		op := p.tok.Type
		expr = &ast.BinaryExpression{Op: op, Left: expr, Right: p.bitwiseShift()}
	}
	return expr
}

func (p *Parser) bitwiseAnd() ast.Expression {
	expr := p.relational()
	for p.accept('&') {
		expr = &ast.BinaryExpression{Op: '&', Left: expr, Right: p.relational()}
	}
	return expr
}

func (p *Parser) bitwiseXor() ast.Expression {
	expr := p.bitwiseAnd()
	for p.accept('^') {
		expr = &ast.BinaryExpression{Op: '^', Left: expr, Right: p.bitwiseAnd()}
	}
	return expr
}

func (p *Parser) bitwiseOr() ast.Expression {
	expr := p.bitwiseXor()
	for p.accept('|') {
		expr = &ast.BinaryExpression{Op: '|', Left: expr, Right: p.bitwiseXor()}
	}
	return expr
}

func (p *Parser) logicalAnd() ast.Expression {
	expr := p.bitwiseOr()
	for p.accept(token.AndAnd) {
		expr = &ast.BinaryExpression{Op: token.AndAnd, Left: expr, Right: p.bitwiseOr()}
	}
	return expr
}

func (p *Parser) logicalOr() ast.Expression {
	expr := p.logicalAnd()
	for p.accept(token.OrOr) {
		expr = &ast.BinaryExpression{Op: token.OrOr, Left: expr, Right: p.logicalAnd()}
	}
	return expr
}

func (p *Parser) ternaryExpression() ast.Expression {
	expr := p.logicalOr()
	for p.accept('?') {
		consequent := p.logicalOr()
		p.expect(':')
		alternative := p.logicalOr()
		expr = &ast.ConditionalExpression{Condition: expr, Consequent: consequent, Alternative: alternative}
	}
	return expr
}

var assignmentOperators = []token.Type{
	'=',
	token.PlusAssign, token.MinusAssign, token.MultiplyAssign, token.DivideAssign,
	token.AndAssign, token.OrAssign, token.XorAssign, token.ModAssign,
}

func (p *Parser) acceptAssignmentOperator() bool {
	for _, op := range assignmentOperators {
		if p.accept(op) {
			return true
		}
	}
	return false
}

// assignmentExpression builds right leaning chains: each further assignment
// operator nests into the rhs of the previous node, so 'a = b = c' comes
// out as 'a = (b = c)'.
func (p *Parser) assignmentExpression() ast.Expression {
	lhs := p.ternaryExpression()
	if !p.acceptAssignmentOperator() {
		return lhs
	}
	root := &ast.AssignmentExpression{Op: p.tok.Type, Lhs: lhs}
	node := root
	for {
		rhs := p.ternaryExpression()
		if !p.acceptAssignmentOperator() {
			node.Rhs = rhs
			break
		}
		next := &ast.AssignmentExpression{Op: p.tok.Type, Lhs: rhs}
		node.Rhs = next
		node = next
	}
	return root
}

func (p *Parser) expression() ast.Expression {
	return p.assignmentExpression()
}

// ----------------------------------------------------------------------------
// Statements

func (p *Parser) statement() ast.Statement {
	if p.accept(';') {
		return &ast.EmptyStatement{}
	}
	if p.acceptTokenString("/#") {
		return p.developerBlock()
	}
	if p.accept('{') {
		return p.blockStatement()
	}

	if t := p.peek(); t.Type == token.Identifier {
		switch t.Lexeme {
		case "if":
			return p.ifStatement()
		case "while":
			return p.whileStatement()
		case "for":
			return p.forStatement()
		case "do":
			return p.doWhileStatement()
		case "return":
			return p.returnStatement()
		case "break":
			return p.breakStatement()
		case "continue":
			return p.continueStatement()
		case "switch":
			return p.switchStatement()
		case "wait":
			return p.waitStatement()
		case "waittillframeend":
			return p.waitTillFrameEndStatement()
		}
	}

	expr := p.expression()
	p.expect(';')
	return &ast.ExpressionStatement{Expression: expr}
}

func (p *Parser) blockStatement() *ast.BlockStatement {
	block := &ast.BlockStatement{}
	for !p.accept('}') {
		block.Body = append(block.Body, p.statement())
	}
	return block
}

// developerBlock parses until the closing '#/'. The body is parsed either
// way to keep the cursor moving, it is only retained in developer mode.
func (p *Parser) developerBlock() *ast.DeveloperBlock {
	block := &ast.DeveloperBlock{}
	for !p.acceptTokenString("#/") {
		stmt := p.statement()
		if p.opts.Developer {
			block.Body = append(block.Body, stmt)
		}
	}
	return block
}

func (p *Parser) ifStatement() ast.Statement {
	p.expectIdentifierString("if")
	p.expect('(')
	stmt := &ast.IfStatement{}
	stmt.Test = p.expression()
	p.expect(')')
	stmt.Consequent = p.statement()
	if p.acceptIdentifierString("else") {
		stmt.Alternative = p.statement()
	}
	return stmt
}

func (p *Parser) whileStatement() ast.Statement {
	p.expectIdentifierString("while")
	p.expect('(')
	stmt := &ast.WhileStatement{}
	stmt.Test = p.expression()
	p.expect(')')
	stmt.Body = p.statement()
	return stmt
}

func (p *Parser) forStatement() ast.Statement {
	p.expectIdentifierString("for")
	p.expect('(')
	stmt := &ast.ForStatement{}
	if !p.accept(';') {
		stmt.Init = p.expression()
		p.expect(';')
	}
	if !p.accept(';') {
		stmt.Test = p.expression()
		p.expect(';')
	}
	if !p.accept(')') {
		stmt.Update = p.expression()
		p.expect(')')
	}
	stmt.Body = p.statement()
	return stmt
}

func (p *Parser) doWhileStatement() ast.Statement {
	p.expectIdentifierString("do")
	p.fail("unhandled statement do while")
	return nil
}

func (p *Parser) returnStatement() ast.Statement {
	p.expectIdentifierString("return")
	stmt := &ast.ReturnStatement{}
	if !p.accept(';') {
		stmt.Argument = p.expression()
		p.expect(';')
	}
	return stmt
}

func (p *Parser) breakStatement() ast.Statement {
	p.expectIdentifierString("break")
	p.expect(';')
	return &ast.BreakStatement{}
}

func (p *Parser) continueStatement() ast.Statement {
	p.expectIdentifierString("continue")
	p.expect(';')
	return &ast.ContinueStatement{}
}

func (p *Parser) waitStatement() ast.Statement {
	p.expectIdentifierString("wait")
	stmt := &ast.WaitStatement{Duration: p.expression()}
	p.expect(';')
	return stmt
}

func (p *Parser) waitTillFrameEndStatement() ast.Statement {
	p.expectIdentifierString("waittillframeend")
	p.expect(';')
	return &ast.WaitTillFrameEndStatement{}
}

// switchStatement models fall-through by reference sharing: every case that
// is still pending appends the statements that follow, so adjacent cases
// without a 'break' between them end up pointing at the same consequent
// list. The 'break' that closes a group is never recorded anywhere.
func (p *Parser) switchStatement() ast.Statement {
	p.expectIdentifierString("switch")
	p.expect('(')
	stmt := &ast.SwitchStatement{Discriminant: p.expression()}
	p.expect(')')
	p.expect('{')

	// One entry per distinct consequent list currently receiving
	// statements. Header-adjacent cases reuse the tail entry so their
	// lists stay reference-equal, a case that joins after statements
	// already ran starts a fresh list of its own.
	active := []*ast.StatementList{}
	for {
		if p.accept('}') {
			return stmt
		}

		p.expect(token.Identifier)
		sc := &ast.SwitchCase{}
		if p.tok.Lexeme != "default" {
			if p.tok.Lexeme != "case" {
				p.fail("expected default or case in switch statement")
			}
			switch t := p.peek(); t.Type {
			case token.Integer:
				sc.Test = p.factorInteger()
			case token.String:
				sc.Test = p.factorString()
			default:
				p.fail("expected integer or string for switch statement case, got '%s'", t.Type)
			}
		}
		p.expect(':')

		if n := len(active); n > 0 && len(*active[n-1]) == 0 {
			sc.Consequent = active[n-1]
		} else {
			sc.Consequent = &ast.StatementList{}
			active = append(active, sc.Consequent)
		}
		stmt.Cases = append(stmt.Cases, sc)

		for {
			if p.accept('}') {
				return stmt
			}
			if p.acceptIdentifierString("case") || p.acceptIdentifierString("default") {
				p.cursor.Unread()
				break
			}
			inner := p.statement()
			if _, isBreak := inner.(*ast.BreakStatement); isBreak {
				active = active[:0]
				break
			}
			for _, list := range active {
				*list = append(*list, inner)
			}
		}
	}
}

// ----------------------------------------------------------------------------
// Top level

// directive handles '#'-directives at declaration position. The only
// supported one is '#using_animtree("name");'.
func (p *Parser) directive() {
	p.expect(token.Identifier)
	if p.tok.Lexeme != "using_animtree" {
		p.fail("unexpected directive %s", p.tok.Lexeme)
	}
	p.expect('(')
	p.expect(token.String)
	p.animtree = p.tok.Lexeme
	p.expect(')')
	p.expect(';')
}

func (p *Parser) functionDeclaration() *ast.FunctionDeclaration {
	p.expect(token.Identifier)
	decl := &ast.FunctionDeclaration{Name: p.tok.Lexeme}
	p.expect('(')
	if !p.accept(')') {
		for {
			decl.Parameters = append(decl.Parameters, p.identifier())
			if !p.accept(',') {
				break
			}
		}
		p.expect(')')
	}
	p.expect('{')
	decl.Body = p.blockStatement()
	return decl
}

func (p *Parser) program() *ast.Program {
	prog := &ast.Program{}
	for !p.accept(token.Eof) {
		if p.accept('#') {
			p.directive()
			continue
		}
		prog.Body = append(prog.Body, p.functionDeclaration())
	}
	return prog
}
