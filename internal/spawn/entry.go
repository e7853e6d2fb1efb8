package spawn

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// injectionMarker separates the rewritten caller module from the worker
// entry template in a generated file. When a worker's own entry file is
// re-read as caller source during a recursive spawn, everything from the
// marker on is stripped.
const injectionMarker = "//#region weave-worker-entry"

// entryTemplate is appended after the rewritten module. The destructure
// line rebinds the captured names in module scope visibility; the user
// function also receives the props object as its single argument.
const entryTemplate = `$worker(async function ($props) {
	const { %s } = $props;
	return (%s)($props);
});`

// WorkersDir is where generated worker entries live, relative to the
// working directory.
var WorkersDir = ".workers"

// ModuleWrapperPrefix opens the CommonJS wrapper weave compiles stored
// modules with. Mirror files on disk carry the same wrapper so stack
// positions agree between execution and on-disk text.
const ModuleWrapperPrefix = "(function(exports, require, module) {"

// WrapModule wraps source as a CommonJS module expression without
// shifting its line numbers.
func WrapModule(src string) string {
	return ModuleWrapperPrefix + src + "\n})"
}

// generateEntry writes the worker entry source for a signature and
// returns its path and content. The file name is the hex MD5 (128 bits)
// of the signature, so equal signatures share one deterministic file.
func generateEntry(callerPath string, fnSource string, names []string, signature string) (string, string, error) {
	module, err := RewriteModule(callerPath)
	if err != nil {
		return "", "", err
	}

	sum := md5.Sum([]byte(signature))
	path, err := filepath.Abs(filepath.Join(WorkersDir, hex.EncodeToString(sum[:])+".ts"))
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	b.WriteString(module)
	if !strings.HasSuffix(module, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(injectionMarker)
	b.WriteString("\n")
	fmt.Fprintf(&b, entryTemplate, strings.Join(names, ", "), fnSource)
	b.WriteString("\n//#endregion\n")
	source := b.String()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		return "", "", err
	}
	return path, source, nil
}
