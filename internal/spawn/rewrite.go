package spawn

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

var rewritten struct {
	sync.Mutex
	modules map[string]string
}

// RewriteModule produces the caller module's source ready for embedding
// into a generated worker entry: truncated at the injection marker (so a
// recursive spawn does not drag its own entry template along) and with
// every relative require specifier rewritten to an absolute path.
// Cached per file.
func RewriteModule(path string) (string, error) {
	rewritten.Lock()
	defer rewritten.Unlock()

	if rewritten.modules == nil {
		rewritten.modules = make(map[string]string)
	}
	if s, ok := rewritten.modules[path]; ok {
		return s, nil
	}

	source, err := LoadSource(path)
	if err != nil {
		return "", err
	}
	text := source.Text
	if i := strings.Index(text, injectionMarker); i >= 0 {
		text = text[:i]
	}

	program, err := parser.ParseFile(nil, path, text, 0)
	if err != nil {
		return "", err
	}

	out := rewriteImports(program, text, filepath.Dir(path))
	rewritten.modules[path] = out
	return out, nil
}

type splice struct {
	from, to    int // 0-based byte range of the original literal
	replacement string
}

// rewriteImports replaces the string literal of every
// require("./...") / require("../...") call with the absolute path
// resolved against dir. Splices stay on their original line.
func rewriteImports(program *ast.Program, text string, dir string) string {
	var splices []splice
	walk(program, func(node ast.Node) bool {
		call, ok := node.(*ast.CallExpression)
		if !ok {
			return true
		}
		callee, ok := call.Callee.(*ast.Identifier)
		if !ok || callee.Name.String() != "require" || len(call.ArgumentList) != 1 {
			return true
		}
		literal, ok := call.ArgumentList[0].(*ast.StringLiteral)
		if !ok {
			return true
		}
		specifier := literal.Value.String()
		if !strings.HasPrefix(specifier, "./") && !strings.HasPrefix(specifier, "../") {
			return true
		}
		absolute := filepath.Join(dir, specifier)
		splices = append(splices, splice{
			from:        int(literal.Idx0()) - 1,
			to:          int(literal.Idx1()) - 1,
			replacement: strconv.Quote(absolute),
		})
		return true
	})

	if len(splices) == 0 {
		return text
	}
	sort.Slice(splices, func(i, j int) bool {
		return splices[i].from < splices[j].from
	})

	var b strings.Builder
	last := 0
	for _, s := range splices {
		b.WriteString(text[last:s.from])
		b.WriteString(s.replacement)
		last = s.to
	}
	b.WriteString(text[last:])
	return b.String()
}
