package spawn

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
)

// internalPrefix marks sources compiled by weave itself (codec helpers,
// entry snippets). Frames from them never count as user call sites.
const internalPrefix = "weave:"

// CallSite is the textual position of a spawn invocation.
type CallSite struct {
	Path   string
	Line   int
	Column int
}

func (c CallSite) Key() string {
	return fmt.Sprintf("%s:%d:%d", c.Path, c.Line, c.Column)
}

// Locate resolves the position of the user code currently invoking a
// native function: the topmost stack frame that refers to an on-disk
// source file.
func Locate(runtime *goja.Runtime) (CallSite, error) {
	frames := runtime.CaptureCallStack(16, nil)
	for _, frame := range frames {
		position := frame.Position()
		name := position.Filename
		if name == "" || strings.HasPrefix(name, "<") || strings.HasPrefix(name, internalPrefix) {
			continue
		}
		if !filepath.IsAbs(name) {
			continue
		}
		return CallSite{Path: name, Line: position.Line, Column: position.Column}, nil
	}
	return CallSite{}, errors.New("unable to resolve the call site, no user frame on the stack")
}
