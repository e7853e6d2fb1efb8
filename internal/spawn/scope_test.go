package spawn

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeScript(t *testing.T, name string, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// position finds the 1-based line and column of the first occurrence of
// substr.
func position(text string, substr string) (int, int) {
	offset := strings.Index(text, substr)
	if offset < 0 {
		return 0, 0
	}
	line := 1 + strings.Count(text[:offset], "\n")
	column := offset - strings.LastIndex(text[:offset], "\n")
	return line, column
}

const scopeScript = `const config = { retries: 3 };
const helper = () => 1;
function main(input) {
	let local = input + config.retries;
	const { a, b = local } = input.pair;
	for (let i = 0; i < 3; i++) {
		try {
			work();
		} catch (e) {
			spawn(() => {
				const own = 1;
				return local + a + b + i + own + config.retries + helper(own) + e.message.length + missing;
			});
		}
	}
}
main;
`

func TestAnalyzeScopes(t *testing.T) {
	path := writeScript(t, "scope.ts", scopeScript)
	line, column := position(scopeScript, "spawn(")

	analysis, err := Analyze(CallSite{Path: path, Line: line, Column: column})
	if err != nil {
		t.Fatal(err)
	}

	descriptor := analysis.Descriptor
	if !reflect.DeepEqual(descriptor.Locals, []string{"a", "b", "e", "i", "local"}) {
		t.Fatalf("unexpected locals %v", descriptor.Locals)
	}
	if !reflect.DeepEqual(descriptor.TopLevels, []string{"config", "helper"}) {
		t.Fatalf("unexpected topLevels %v", descriptor.TopLevels)
	}

	// locals 与 topLevels 不相交
	for _, l := range descriptor.Locals {
		for _, g := range descriptor.TopLevels {
			if l == g {
				t.Fatal("locals and topLevels overlap")
			}
		}
	}

	if !strings.HasPrefix(analysis.FnSource, "() =>") {
		t.Fatalf("unexpected fn source %q", analysis.FnSource)
	}
}

func TestAnalyzeCacheHit(t *testing.T) {
	path := writeScript(t, "cache.ts", scopeScript)
	line, column := position(scopeScript, "spawn(")
	site := CallSite{Path: path, Line: line, Column: column}

	first, err := Analyze(site)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Analyze(site)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("cache hit should return the same analysis")
	}
}

func TestAnalyzeErrors(t *testing.T) {
	path := writeScript(t, "bad.ts", "const x = 1;\nspawn(x);\n")

	// 位置上没有 spawn 调用
	if _, err := Analyze(CallSite{Path: path, Line: 1, Column: 1}); err == nil {
		t.Fatal("expected an error for a position outside any spawn call")
	}

	// 第一个参数不是内联函数
	line, column := position("const x = 1;\nspawn(x);\n", "spawn(")
	if _, err := Analyze(CallSite{Path: path, Line: line, Column: column}); err == nil {
		t.Fatal("expected an error for a non-function argument")
	}

	// 文件不存在
	if _, err := Analyze(CallSite{Path: path + ".missing", Line: 1, Column: 1}); err == nil {
		t.Fatal("expected an error for an unreadable file")
	}
}

func TestAnalyzeDestructuredCapture(t *testing.T) {
	script := `const base = 10;
function run({ first, rest = base }, [second]) {
	return spawn(() => first + second + rest);
}
run;
`
	path := writeScript(t, "destructure.ts", script)
	line, column := position(script, "spawn(")

	analysis, err := Analyze(CallSite{Path: path, Line: line, Column: column})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(analysis.Descriptor.Locals, []string{"first", "rest", "second"}) {
		t.Fatalf("unexpected locals %v", analysis.Descriptor.Locals)
	}
	if len(analysis.Descriptor.TopLevels) != 0 {
		t.Fatalf("unexpected topLevels %v", analysis.Descriptor.TopLevels)
	}
}
