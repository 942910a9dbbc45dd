package preprocessor_test

import (
	"fmt"
	"testing"

	"github.com/kungfooman/gamescript/pkg/lexer"
	"github.com/kungfooman/gamescript/pkg/preprocessor"
	"github.com/kungfooman/gamescript/pkg/token"
)

// mapFilesystem serves sources from memory, the test double for the host
// filesystem adapter.
type mapFilesystem map[string]string

func (fs mapFilesystem) ReadFile(name string) ([]byte, error) {
	content, ok := fs[name]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", name)
	}
	return []byte(content), nil
}

func options() preprocessor.Options {
	return preprocessor.Options{
		Flags:            preprocessor.IncludeOnce | preprocessor.IgnoreUnknownDirectives,
		IncludeExtension: ".gsc",
		Lexer:            lexer.Options{BackslashIdentifiers: true},
	}
}

func countIdentifier(tokens []token.Token, name string) int {
	count := 0
	for _, t := range tokens {
		if t.Type == token.Identifier && t.Lexeme == name {
			count++
		}
	}
	return count
}

func TestIncludeSplicing(t *testing.T) {
	fs := mapFilesystem{
		"main.gsc": "#include util;\nmain() { helper(); }",
		"util.gsc": "helper() { }",
	}
	tokens, err := preprocessor.New(fs, options()).Process("main")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// The included definition lands before the including file's own code.
	if countIdentifier(tokens, "helper") != 2 {
		t.Fatalf("expected the helper definition and its call site")
	}
	if tokens[0].Lexeme != "helper" {
		t.Fatalf("included tokens should come first, got %+v", tokens[0])
	}
	if last := tokens[len(tokens)-1]; last.Type != token.Eof {
		t.Fatalf("stream must end in a single eof, got %+v", last)
	}
	for _, tok := range tokens[:len(tokens)-1] {
		if tok.Type == token.Eof {
			t.Fatalf("inner eof leaked into the stream")
		}
	}
}

func TestIncludeOnce(t *testing.T) {
	fs := mapFilesystem{
		"main.gsc": "#include util;\n#include util;\nmain() { }",
		"util.gsc": "helper() { }",
	}
	tokens, err := preprocessor.New(fs, options()).Process("main")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if countIdentifier(tokens, "helper") != 1 {
		t.Fatalf("include-once must splice a file a single time")
	}
}

func TestBackslashIncludePath(t *testing.T) {
	fs := mapFilesystem{
		"main.gsc":         `#include maps\mp\util;` + "\nmain() { }",
		"maps/mp/util.gsc": "helper() { }",
	}
	tokens, err := preprocessor.New(fs, options()).Process("main")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if countIdentifier(tokens, "helper") != 1 {
		t.Fatalf("backslash include paths must normalize to slashes")
	}
}

func TestNestedIncludes(t *testing.T) {
	fs := mapFilesystem{
		"main.gsc": "#include a;\nmain() { }",
		"a.gsc":    "#include b;\nfroma() { }",
		"b.gsc":    "fromb() { }",
	}
	tokens, err := preprocessor.New(fs, options()).Process("main")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if countIdentifier(tokens, "fromb") != 1 || countIdentifier(tokens, "froma") != 1 {
		t.Fatalf("nested includes must splice transitively")
	}
}

func TestMalformedInclude(t *testing.T) {
	fs := mapFilesystem{"main.gsc": "#include ;\nmain() { }"}
	if _, err := preprocessor.New(fs, options()).Process("main"); err == nil {
		t.Fatalf("a malformed include must fail")
	}
}

func TestMissingIncludeTarget(t *testing.T) {
	fs := mapFilesystem{"main.gsc": "#include gone;\nmain() { }"}
	if _, err := preprocessor.New(fs, options()).Process("main"); err == nil {
		t.Fatalf("a missing include target must fail")
	}
}

func TestOtherDirectivesPassThrough(t *testing.T) {
	fs := mapFilesystem{"main.gsc": "#using_animtree(\"generic\");\nmain() { }"}
	tokens, err := preprocessor.New(fs, options()).Process("main")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if tokens[0].Type != '#' || tokens[1].Lexeme != "using_animtree" {
		t.Fatalf("parser directives must reach the parser untouched")
	}
}

func TestLineNumbersSurviveSplicing(t *testing.T) {
	fs := mapFilesystem{
		"main.gsc": "#include util;\nmain() { }",
		"util.gsc": "helper() { }",
	}
	tokens, err := preprocessor.New(fs, options()).Process("main")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	for _, tok := range tokens {
		if tok.Type == token.Identifier && tok.Lexeme == "main" {
			if tok.File != "main.gsc" || tok.Line != 2 {
				t.Fatalf("'main' should sit at main.gsc:2, got %s:%d", tok.File, tok.Line)
			}
			return
		}
	}
	t.Fatalf("'main' token not found")
}
