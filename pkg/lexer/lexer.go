package lexer

import (
	"fmt"
	"strings"

	"github.com/kungfooman/gamescript/pkg/token"
)

// ----------------------------------------------------------------------------
// Lexer

// This section defines the Lexer for the gamescript dialect.
//
// The lexer turns one source file into a flat token slice. It handles the
// C-like surface (identifiers, integer/float/string literals, compound
// operators) plus the dialect quirks: identifiers may contain '\' so that
// 'path\to\file' works inside '::' references, and the '/#' developer block
// opener must never be mistaken for the start of a comment. Newline tokens
// are not emitted, only the line counter advances.
type Lexer struct {
	source []byte
	file   string
	pos    int
	line   int
	opts   Options
}

type Options struct {
	// Allow '\' inside identifiers so cross file references lex as a
	// single token.
	BackslashIdentifiers bool
	// Line number of the first byte of the buffer, used when lexing a
	// slice of a larger file. Zero means line 1.
	StartLine int
}

// Initializes and returns to the caller a brand new 'Lexer' for the given
// source buffer. 'file' is only carried into tokens for error reporting.
func New(file string, source []byte, opts Options) *Lexer {
	line := opts.StartLine
	if line == 0 {
		line = 1
	}
	return &Lexer{source: source, file: file, line: line, opts: opts}
}

// Scans the whole buffer and returns the token slice, terminated by an Eof
// token. The first malformed input stops the scan.
func (l *Lexer) Scan() ([]token.Token, error) {
	tokens := []token.Token{}
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == token.Eof {
			return tokens, nil
		}
	}
}

// Two character operator table, checked before the single character
// fallback so that longest match wins.
var compound = map[string]token.Type{
	"::": token.DoubleColon,
	"+=": token.PlusAssign,
	"-=": token.MinusAssign,
	"*=": token.MultiplyAssign,
	"/=": token.DivideAssign,
	"%=": token.ModAssign,
	"&=": token.AndAssign,
	"|=": token.OrAssign,
	"^=": token.XorAssign,
	"==": token.Eq,
	"!=": token.Neq,
	">=": token.Geq,
	"<=": token.Leq,
	"&&": token.AndAnd,
	"||": token.OrOr,
	"<<": token.Lsht,
	">>": token.Rsht,
	"++": token.PlusPlus,
	"--": token.MinusMinus,
}

func (l *Lexer) next() (token.Token, error) {
	l.skipBlanks()
	if l.pos >= len(l.source) {
		return l.emit(token.Eof, ""), nil
	}

	ch := l.source[l.pos]
	switch {
	case isIdentStart(ch) || (ch == '\\' && l.opts.BackslashIdentifiers):
		return l.identifier(), nil
	case ch >= '0' && ch <= '9':
		return l.number()
	case ch == '"':
		return l.stringLiteral()
	}

	if l.pos+1 < len(l.source) {
		if tt, ok := compound[string(l.source[l.pos:l.pos+2])]; ok {
			l.pos += 2
			return l.emit(tt, tt.String()), nil
		}
	}

	l.pos++
	return l.emit(token.Type(ch), string(ch)), nil
}

// Eats whitespace and comments. A '/' followed by '#' is the developer
// block opener and must fall through to operator scanning.
func (l *Lexer) skipBlanks() {
	for l.pos < len(l.source) {
		ch := l.source[l.pos]
		switch {
		case ch == '\n':
			l.line++
			l.pos++
		case ch == ' ' || ch == '\t' || ch == '\r':
			l.pos++
		case ch == '/' && l.pos+1 < len(l.source) && l.source[l.pos+1] == '/':
			for l.pos < len(l.source) && l.source[l.pos] != '\n' {
				l.pos++
			}
		case ch == '/' && l.pos+1 < len(l.source) && l.source[l.pos+1] == '*':
			l.pos += 2
			for l.pos+1 < len(l.source) && !(l.source[l.pos] == '*' && l.source[l.pos+1] == '/') {
				if l.source[l.pos] == '\n' {
					l.line++
				}
				l.pos++
			}
			l.pos += 2
		default:
			return
		}
	}
}

func (l *Lexer) identifier() token.Token {
	start := l.pos
	for l.pos < len(l.source) {
		ch := l.source[l.pos]
		if isIdentPart(ch) || (ch == '\\' && l.opts.BackslashIdentifiers) {
			l.pos++
			continue
		}
		break
	}
	return l.emit(token.Identifier, string(l.source[start:l.pos]))
}

func (l *Lexer) number() (token.Token, error) {
	start := l.pos
	isFloat := false
	for l.pos < len(l.source) {
		ch := l.source[l.pos]
		if ch >= '0' && ch <= '9' {
			l.pos++
			continue
		}
		// Only one dot, and only when a digit follows, so that 'a[2].x'
		// style chains keep their punctuation.
		if ch == '.' && !isFloat && l.pos+1 < len(l.source) && l.source[l.pos+1] >= '0' && l.source[l.pos+1] <= '9' {
			isFloat = true
			l.pos++
			continue
		}
		break
	}
	lexeme := string(l.source[start:l.pos])
	if isFloat {
		return l.emit(token.Number, lexeme), nil
	}
	return l.emit(token.Integer, lexeme), nil
}

func (l *Lexer) stringLiteral() (token.Token, error) {
	l.pos++ // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.source) {
			return token.Token{}, fmt.Errorf("%s:%d: unterminated string literal", l.file, l.line)
		}
		ch := l.source[l.pos]
		if ch == '"' {
			l.pos++
			return l.emit(token.String, sb.String()), nil
		}
		if ch == '\n' {
			return token.Token{}, fmt.Errorf("%s:%d: newline in string literal", l.file, l.line)
		}
		if ch == '\\' && l.pos+1 < len(l.source) {
			l.pos++
			switch l.source[l.pos] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte(l.source[l.pos])
			}
			l.pos++
			continue
		}
		sb.WriteByte(ch)
		l.pos++
	}
}

func (l *Lexer) emit(tt token.Type, lexeme string) token.Token {
	return token.Token{Type: tt, Lexeme: lexeme, File: l.file, Line: l.line}
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}
