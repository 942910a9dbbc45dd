package preprocessor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	pc "github.com/prataprc/goparsec"

	"github.com/kungfooman/gamescript/pkg/lexer"
	"github.com/kungfooman/gamescript/pkg/token"
)

// ----------------------------------------------------------------------------
// Parser Combinator(s)

// This section defines the Parser Combinator for the preprocessor directives.
//
// A directive occupies one source line and has a small regular grammar, so we
// parse each candidate line in isolation. Only '#include' is owned by the
// preprocessor; every other '#' form (like '#using_animtree') flows through
// untouched for the parser to deal with.
var ast = pc.NewAST("preprocessor", 0)

var (
	// Include directive, compliant with the following syntax: "#include {path};"
	pInclude = ast.And("include_directive", nil, pc.Atom("#include", "INCLUDE"), pPath, pc.Atom(";", ";"))

	// Script path, forward or backward slashes both work and the file
	// extension is optional (appended from the options when missing).
	pPath = pc.Token(`[A-Za-z0-9_][A-Za-z0-9_\\/.]*`, "PATH")
)

// ----------------------------------------------------------------------------
// Preprocessor

// The Preprocessor expands a source file into a single token stream.
//
// It walks the file line by line: '#include' lines are parsed with the PCs
// above and replaced by the (recursively preprocessed) tokens of the target
// file, every other line is accumulated and handed to the lexer in one
// segment so token line numbers stay accurate. Include-once semantics keep a
// file from being spliced twice into the same stream.
type Flags int

const (
	IncludeOnce Flags = 1 << iota
	IgnoreUnknownDirectives
)

type Options struct {
	Flags            Flags
	IncludeExtension string // appended to include paths without one, e.g. ".gsc"
	Lexer            lexer.Options
}

// The host filesystem adapter seam. Script sources are resolved through this
// one method so embeddings can ship scripts from archives or memory.
type Filesystem interface {
	ReadFile(name string) ([]byte, error)
}

// Filesystem over a directory on disk.
type DirFilesystem struct{ Root string }

func (fs DirFilesystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(fs.Root, filepath.FromSlash(name)))
}

type Preprocessor struct {
	fs       Filesystem
	opts     Options
	included map[string]bool
}

// Initializes and returns to the caller a brand new 'Preprocessor' reading
// through the given 'Filesystem'.
func New(fs Filesystem, opts Options) *Preprocessor {
	return &Preprocessor{fs: fs, opts: opts, included: map[string]bool{}}
}

// Expands 'path' and everything it includes into one token stream terminated
// by a single Eof token.
func (p *Preprocessor) Process(path string) ([]token.Token, error) {
	tokens, err := p.process(normalize(path, p.opts.IncludeExtension))
	if err != nil {
		return nil, err
	}
	return append(tokens, token.Token{Type: token.Eof, File: path}), nil
}

func (p *Preprocessor) process(path string) ([]token.Token, error) {
	if p.included[path] {
		return nil, nil
	}
	if p.opts.Flags&IncludeOnce != 0 {
		p.included[path] = true
	}

	content, err := p.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read script '%s': %w", path, err)
	}

	tokens := []token.Token{}
	lines := strings.Split(string(content), "\n")
	segment := []string{}
	segmentStart := 1

	// Lexes the accumulated plain lines and appends their tokens,
	// dropping the segment terminator.
	flush := func(endLine int) error {
		if len(segment) == 0 {
			return nil
		}
		opts := p.opts.Lexer
		opts.StartLine = segmentStart
		seg, err := lexer.New(path, []byte(strings.Join(segment, "\n")), opts).Scan()
		if err != nil {
			return err
		}
		tokens = append(tokens, seg[:len(seg)-1]...) // strip segment Eof
		segment = segment[:0]
		segmentStart = endLine
		return nil
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#include") {
			segment = append(segment, line)
			continue
		}
		if err := flush(i + 2); err != nil {
			return nil, err
		}
		// The directive has to parse as a whole, a stray '#include'
		// with a malformed tail is a hard error.
		root, _ := ast.Parsewith(pInclude, pc.NewScanner([]byte(trimmed)))
		if root == nil || len(root.GetChildren()) != 3 {
			return nil, fmt.Errorf("%s:%d: malformed '#include' directive", path, i+1)
		}
		target := normalize(root.GetChildren()[1].GetValue(), p.opts.IncludeExtension)
		included, err := p.process(target)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, included...)
		segmentStart = i + 2
	}
	if err := flush(len(lines) + 1); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Folds backslashes to forward slashes and appends the include extension
// when the path carries none.
func normalize(path, ext string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if ext != "" && !strings.HasSuffix(path, ext) {
		path += ext
	}
	return path
}
