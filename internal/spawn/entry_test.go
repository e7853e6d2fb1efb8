package spawn

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateEntry(t *testing.T) {
	WorkersDir = filepath.Join(t.TempDir(), ".workers")

	caller := writeScript(t, "caller.ts", "const n = 1;\nconst x = () => n;\n")
	signature := "sig|a,n"

	path, source, err := generateEntry(caller, "() => n + a", []string{"a", "n"}, signature)
	if err != nil {
		t.Fatal(err)
	}

	sum := md5.Sum([]byte(signature))
	if filepath.Base(path) != hex.EncodeToString(sum[:])+".ts" {
		t.Fatal("entry path must be the signature digest")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != source {
		t.Fatal("the on-disk entry must match the returned source")
	}

	if !strings.Contains(source, "const n = 1;") {
		t.Fatal("the rewritten module must be embedded")
	}
	if !strings.Contains(source, injectionMarker) {
		t.Fatal("the injection marker is missing")
	}
	if !strings.Contains(source, "const { a, n } = $props;") {
		t.Fatal("the capture destructure is missing")
	}
	if !strings.Contains(source, "(() => n + a)($props)") {
		t.Fatal("the user function is not invoked with props")
	}

	// 同一签名生成到同一条路径
	again, _, err := generateEntry(caller, "() => n + a", []string{"a", "n"}, signature)
	if err != nil {
		t.Fatal(err)
	}
	if again != path {
		t.Fatal("equal signatures must share one entry file")
	}
}

func TestGenerateEntryStripsPreviousTemplate(t *testing.T) {
	WorkersDir = filepath.Join(t.TempDir(), ".workers")

	caller := writeScript(t, "nested.ts",
		"const n = 1;\n"+injectionMarker+"\n$worker(async function ($props) {\n\tconst {  } = $props;\n\treturn (() => n)($props);\n});\n")

	_, source, err := generateEntry(caller, "() => n", []string{"n"}, "sig2|n")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(source, injectionMarker) != 1 {
		t.Fatal("exactly one injection marker expected")
	}
	if strings.Count(source, "$worker(") != 1 {
		t.Fatal("exactly one worker registration expected")
	}
}
