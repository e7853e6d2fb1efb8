package spawn

import (
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestRewriteModule(t *testing.T) {
	script := `const util = require("./util");
const deep = require("../lib/deep");
const bare = require("lodash");
let x = 1;
`
	path := writeScript(t, "imports.ts", script)

	out, err := RewriteModule(path)
	if err != nil {
		t.Fatal(err)
	}

	dir := filepath.Dir(path)
	if !strings.Contains(out, "require("+strconv.Quote(filepath.Join(dir, "util"))+")") {
		t.Fatalf("relative specifier was not rewritten: %s", out)
	}
	if !strings.Contains(out, "require("+strconv.Quote(filepath.Join(dir, "../lib/deep"))+")") {
		t.Fatalf("parent specifier was not rewritten: %s", out)
	}
	if !strings.Contains(out, `require("lodash")`) {
		t.Fatal("bare specifiers must stay untouched")
	}

	// 行号保持不变
	if strings.Count(out, "\n") != strings.Count(script, "\n") {
		t.Fatal("rewriting must not change line numbers")
	}
}

func TestRewriteModuleTruncatesEntry(t *testing.T) {
	script := "const a = 1;\n" + injectionMarker + "\n$worker(async function ($props) {});\n"
	path := writeScript(t, "entry.ts", script)

	out, err := RewriteModule(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "$worker") {
		t.Fatal("the previous entry template must be stripped")
	}
	if !strings.Contains(out, "const a = 1;") {
		t.Fatal("the module body must survive")
	}
}

func TestRewriteModuleCached(t *testing.T) {
	path := writeScript(t, "cached.ts", `const y = require("./y");`)

	first, err := RewriteModule(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := RewriteModule(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("rewrite cache should be stable")
	}
}
