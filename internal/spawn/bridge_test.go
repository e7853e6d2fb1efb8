package spawn

import "testing"

func TestEmitBridge(t *testing.T) {
	analysis := &Analysis{
		Descriptor: &ScopeDescriptor{
			Locals:    []string{"a"},
			TopLevels: []string{"b"},
		},
		FnSource: "() => a + b",
	}
	site := CallSite{Path: "/tmp/x.ts", Line: 3, Column: 7}

	bridge := EmitBridge(analysis, site)
	want := `$dispatch({a:a,b:b},["b"],"() => a + b","/tmp/x.ts","/tmp/x.ts:3:7")`
	if bridge != want {
		t.Fatalf("unexpected bridge:\n got %s\nwant %s", bridge, want)
	}
}

func TestEmitBridgeEmptyCapture(t *testing.T) {
	analysis := &Analysis{
		Descriptor: &ScopeDescriptor{},
		FnSource:   "() => 1",
	}
	site := CallSite{Path: "/tmp/y.ts", Line: 1, Column: 1}

	bridge := EmitBridge(analysis, site)
	want := `$dispatch({},[],"() => 1","/tmp/y.ts","/tmp/y.ts:1:1")`
	if bridge != want {
		t.Fatalf("unexpected bridge: %s", bridge)
	}
}
