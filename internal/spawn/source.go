package spawn

import (
	"os"
	"sync"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// Source is a parsed module file. Files are parsed once and never
// invalidated: weave targets development and long-lived server
// processes, editing a source file requires a restart.
type Source struct {
	Path    string
	Text    string
	Program *ast.Program
}

var sources struct {
	sync.Mutex
	files map[string]*Source
}

func LoadSource(path string) (*Source, error) {
	sources.Lock()
	defer sources.Unlock()

	if sources.files == nil {
		sources.files = make(map[string]*Source)
	}
	if s, ok := sources.files[path]; ok {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	program, err := parser.ParseFile(nil, path, string(data), 0)
	if err != nil {
		return nil, err
	}

	s := &Source{Path: path, Text: string(data), Program: program}
	sources.files[path] = s
	return s, nil
}

// OffsetOf maps a 1-based line and column to a 0-based byte offset.
func (s *Source) OffsetOf(line int, column int) int {
	offset := 0
	for line > 1 && offset < len(s.Text) {
		if s.Text[offset] == '\n' {
			line--
		}
		offset++
	}
	offset += column - 1
	if offset > len(s.Text) {
		offset = len(s.Text)
	}
	return offset
}

// Slice returns the text of a node. Node indexes are 1-based.
func (s *Source) Slice(node ast.Node) string {
	from, to := int(node.Idx0())-1, int(node.Idx1())-1
	if from < 0 || to > len(s.Text) || from > to {
		return ""
	}
	return s.Text[from:to]
}

// contains reports whether the node's text range covers the 0-based
// offset.
func contains(node ast.Node, offset int) bool {
	return int(node.Idx0())-1 <= offset && offset < int(node.Idx1())-1
}
