package token_test

import (
	"testing"

	"github.com/kungfooman/gamescript/pkg/token"
)

func tokens(types ...token.Type) []token.Token {
	out := make([]token.Token, len(types))
	for i, tt := range types {
		out[i] = token.Token{Type: tt}
	}
	return out
}

func TestCursorReads(t *testing.T) {
	c := token.NewCursor(tokens('a', 'b', 'c'))
	if c.Read().Type != 'a' || c.Read().Type != 'b' || c.Read().Type != 'c' {
		t.Fatalf("reads should come back in order")
	}
	// Past the end the cursor hands out eof forever.
	if c.Read().Type != token.Eof || c.Read().Type != token.Eof {
		t.Fatalf("expected eof past the end")
	}
}

func TestCursorPeekDoesNotAdvance(t *testing.T) {
	c := token.NewCursor(tokens('a', 'b'))
	if c.Peek().Type != 'a' || c.Peek().Type != 'a' {
		t.Fatalf("peek must not advance")
	}
	if c.Read().Type != 'a' {
		t.Fatalf("read after peek should yield the peeked token")
	}
}

func TestCursorUnread(t *testing.T) {
	c := token.NewCursor(tokens('a', 'b'))
	c.Read()
	c.Unread()
	if c.Read().Type != 'a' {
		t.Fatalf("unread should push the last token back")
	}
}

func TestCursorSaveRestore(t *testing.T) {
	c := token.NewCursor(tokens('a', 'b', 'c', 'd'))
	c.Read()

	c.Save()
	c.Read()
	c.Read()
	c.Restore()
	if c.Peek().Type != 'b' {
		t.Fatalf("restore should rewind to the save point")
	}

	// Pop keeps the reads and drops the save point.
	c.Save()
	c.Read()
	c.Pop()
	if c.Peek().Type != 'c' {
		t.Fatalf("pop should keep the cursor where it is")
	}
}

func TestCursorNestedSaves(t *testing.T) {
	c := token.NewCursor(tokens('a', 'b', 'c', 'd'))

	c.Save() // at a
	c.Read()
	c.Save() // at b
	c.Read()
	c.Read()
	c.Restore() // back to b
	if c.Peek().Type != 'b' {
		t.Fatalf("inner restore should rewind to the inner save")
	}
	c.Restore() // back to a
	if c.Peek().Type != 'a' {
		t.Fatalf("outer restore should rewind to the outer save")
	}
}

func TestTypeNames(t *testing.T) {
	test := func(tt token.Type, expected string) {
		t.Helper()
		if tt.String() != expected {
			t.Fatalf("type %d should print as %q, got %q", int(tt), expected, tt.String())
		}
	}
	test('(', "(")
	test(token.Identifier, "identifier")
	test(token.Eq, "==")
	test(token.DoubleColon, "::")
	test(token.Eof, "eof")
}
