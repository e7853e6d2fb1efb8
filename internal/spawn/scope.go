package spawn

import (
	"errors"
	"sort"
	"sync"

	"github.com/dop251/goja/ast"
)

// ScopeDescriptor partitions the free identifiers of a spawn closure:
// names bound between the closure and the file root are locals, names
// bound at the file's module scope are topLevels. The two sets are
// disjoint and ordered.
type ScopeDescriptor struct {
	Locals    []string
	TopLevels []string
}

// Analysis is the cached result for one call site.
type Analysis struct {
	Descriptor *ScopeDescriptor
	FnSource   string
}

var analyses struct {
	sync.Mutex
	byCallSite map[string]*Analysis
}

// Analyze resolves the spawn invocation at the call site into its scope
// descriptor and the closure's source text. Results are cached by
// call-site key.
func Analyze(site CallSite) (*Analysis, error) {
	analyses.Lock()
	defer analyses.Unlock()

	if analyses.byCallSite == nil {
		analyses.byCallSite = make(map[string]*Analysis)
	}
	if a, ok := analyses.byCallSite[site.Key()]; ok {
		return a, nil
	}

	source, err := LoadSource(site.Path)
	if err != nil {
		return nil, err
	}
	offset := source.OffsetOf(site.Line, site.Column)

	call := findSpawnCall(source.Program, offset)
	if call == nil {
		return nil, errors.New("no spawn invocation found at " + site.Key())
	}
	if len(call.ArgumentList) == 0 {
		return nil, errors.New("spawn expects an inline function argument")
	}
	fn := call.ArgumentList[0]
	switch fn.(type) {
	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
	default:
		return nil, errors.New("the spawn argument is not an inline function")
	}

	descriptor := analyzeScopes(source.Program, fn)
	a := &Analysis{
		Descriptor: descriptor,
		FnSource:   source.Slice(fn),
	}
	analyses.byCallSite[site.Key()] = a
	return a, nil
}

// findSpawnCall returns the smallest call expression whose callee is the
// identifier `spawn` and whose text range contains offset.
func findSpawnCall(program *ast.Program, offset int) *ast.CallExpression {
	var smallest *ast.CallExpression
	walk(program, func(node ast.Node) bool {
		call, ok := node.(*ast.CallExpression)
		if !ok {
			return true
		}
		callee, ok := call.Callee.(*ast.Identifier)
		if !ok || callee.Name.String() != "spawn" || !contains(call, offset) {
			return true
		}
		if smallest == nil || width(call) < width(smallest) {
			smallest = call
		}
		return true
	})
	return smallest
}

func width(node ast.Node) int {
	return int(node.Idx1() - node.Idx0())
}

// analyzeScopes collects the identifiers referenced as values inside fn
// and resolves each against the chain of enclosing binders.
func analyzeScopes(program *ast.Program, fn ast.Expression) *ScopeDescriptor {
	refs := collectReferences(fn)
	inside := boundNames(fn)

	path := findPath(program, fn)
	if path == nil {
		return &ScopeDescriptor{}
	}

	var locals, topLevels []string
	seenLocal := map[string]bool{}
	seenTop := map[string]bool{}

	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if inside[name] { // 闭包内部绑定的名字不是自由变量
			continue
		}
		// nearest enclosing binder, innermost first; the closure itself
		// is skipped
		for i := len(path) - 2; i >= 0; i-- {
			binders := binderNames(path[i])
			if !binders[name] {
				continue
			}
			if _, isProgram := path[i].(*ast.Program); isProgram {
				if !seenTop[name] {
					seenTop[name] = true
					topLevels = append(topLevels, name)
				}
			} else if !seenLocal[name] {
				seenLocal[name] = true
				locals = append(locals, name)
			}
			break
		}
		// unresolved names are true globals and stay behind
	}

	return &ScopeDescriptor{Locals: locals, TopLevels: topLevels}
}

// collectReferences gathers identifier names used as values in the
// closure. Property name sides of member accesses and object literals,
// binding targets of declarations and parameters are not value uses;
// shorthand object properties are.
func collectReferences(fn ast.Node) map[string]bool {
	refs := map[string]bool{}
	var visit func(node ast.Node)
	visit = func(node ast.Node) {
		if node == nil || isNilNode(node) {
			return
		}
		switch n := node.(type) {
		case *ast.Identifier:
			refs[n.Name.String()] = true
		case *ast.DotExpression:
			visit(n.Left) // 属性名不作为引用
		case *ast.PrivateDotExpression:
			visit(n.Left)
		case *ast.PropertyKeyed:
			if n.Computed {
				visit(n.Key)
			}
			visit(n.Value)
		case *ast.VariableStatement:
			for _, b := range n.List {
				visitPattern(b.Target, visit)
				visit(b.Initializer)
			}
		case *ast.LexicalDeclaration:
			for _, b := range n.List {
				visitPattern(b.Target, visit)
				visit(b.Initializer)
			}
		case *ast.FunctionLiteral:
			visitParameters(n.ParameterList, visit)
			visit(n.Body)
		case *ast.ArrowFunctionLiteral:
			visitParameters(n.ParameterList, visit)
			visit(n.Body)
		case *ast.FunctionDeclaration:
			visit(n.Function)
		case *ast.ClassDeclaration:
			visit(n.Class)
		case *ast.ClassLiteral:
			visit(n.SuperClass)
			for _, e := range n.Body {
				visit(e)
			}
		case *ast.CatchStatement:
			if n.Parameter != nil {
				visitPattern(n.Parameter, visit)
			}
			visit(n.Body)
		case *ast.ForLoopInitializerVarDeclList:
			for _, b := range n.List {
				visitPattern(b.Target, visit)
				visit(b.Initializer)
			}
		case *ast.ForLoopInitializerLexicalDecl:
			for _, b := range n.LexicalDeclaration.List {
				visitPattern(b.Target, visit)
				visit(b.Initializer)
			}
		case *ast.ForIntoVar:
			visitPattern(n.Binding.Target, visit)
			visit(n.Binding.Initializer)
		case *ast.ForDeclaration:
			visitPattern(n.Target, visit)
		case *ast.BranchStatement: // continue/break 的标签不是引用
		case *ast.LabelledStatement:
			visit(n.Statement)
		default:
			for _, child := range children(node) {
				visit(child)
			}
		}
	}
	switch n := fn.(type) {
	case *ast.FunctionLiteral:
		visit(n.Body)
	case *ast.ArrowFunctionLiteral:
		visit(n.Body)
	}
	return refs
}

// visitPattern walks a binding target for the value uses hidden inside
// it (computed keys, defaults) while skipping the bound names.
func visitPattern(target ast.Node, visit func(ast.Node)) {
	switch t := target.(type) {
	case *ast.Identifier: // 绑定名，跳过
	case *ast.ObjectPattern:
		for _, p := range t.Properties {
			switch prop := p.(type) {
			case *ast.PropertyShort:
				visit(prop.Initializer)
			case *ast.PropertyKeyed:
				if prop.Computed {
					visit(prop.Key)
				}
				visitPattern(prop.Value, visit)
			}
		}
		if t.Rest != nil {
			visitPattern(t.Rest, visit)
		}
	case *ast.ArrayPattern:
		for _, e := range t.Elements {
			if e != nil {
				visitPattern(e, visit)
			}
		}
		if t.Rest != nil {
			visitPattern(t.Rest, visit)
		}
	case *ast.AssignExpression: // 解构默认值
		visitPattern(t.Left, visit)
		visit(t.Right)
	}
}

func visitParameters(params *ast.ParameterList, visit func(ast.Node)) {
	if params == nil {
		return
	}
	for _, b := range params.List {
		visitPattern(b.Target, visit)
		visit(b.Initializer)
	}
	if params.Rest != nil {
		visitPattern(params.Rest, visit)
	}
}

// boundNames collects every name bound anywhere within the subtree:
// parameters, declarations, catch variables, loop bindings.
func boundNames(root ast.Node) map[string]bool {
	bound := map[string]bool{}
	add := func(name string) {
		bound[name] = true
	}
	walk(root, func(node ast.Node) bool {
		switch n := node.(type) {
		case *ast.VariableStatement:
			for _, b := range n.List {
				patternNames(b.Target, add)
			}
		case *ast.LexicalDeclaration:
			for _, b := range n.List {
				patternNames(b.Target, add)
			}
		case *ast.FunctionLiteral:
			if n.Name != nil {
				add(n.Name.Name.String())
			}
			parameterNames(n.ParameterList, add)
		case *ast.ArrowFunctionLiteral:
			parameterNames(n.ParameterList, add)
		case *ast.ClassLiteral:
			if n.Name != nil {
				add(n.Name.Name.String())
			}
		case *ast.CatchStatement:
			if n.Parameter != nil {
				patternNames(n.Parameter, add)
			}
		case *ast.ForLoopInitializerVarDeclList:
			for _, b := range n.List {
				patternNames(b.Target, add)
			}
		case *ast.ForLoopInitializerLexicalDecl:
			for _, b := range n.LexicalDeclaration.List {
				patternNames(b.Target, add)
			}
		case *ast.ForIntoVar:
			patternNames(n.Binding.Target, add)
		case *ast.ForDeclaration:
			patternNames(n.Target, add)
		}
		return true
	})
	return bound
}

// binderNames returns the names bound by one ancestor node.
func binderNames(node ast.Node) map[string]bool {
	names := map[string]bool{}
	add := func(name string) {
		names[name] = true
	}
	switch n := node.(type) {
	case *ast.Program:
		declaredNames(n.Body, add)
	case *ast.FunctionLiteral:
		if n.Name != nil {
			add(n.Name.Name.String())
		}
		parameterNames(n.ParameterList, add)
		if n.Body != nil {
			declaredNames(n.Body.List, add)
		}
	case *ast.ArrowFunctionLiteral:
		parameterNames(n.ParameterList, add)
		if body, ok := n.Body.(*ast.BlockStatement); ok {
			declaredNames(body.List, add)
		}
	case *ast.BlockStatement:
		declaredNames(n.List, add)
	case *ast.ForStatement:
		switch init := n.Initializer.(type) {
		case *ast.ForLoopInitializerVarDeclList:
			for _, b := range init.List {
				patternNames(b.Target, add)
			}
		case *ast.ForLoopInitializerLexicalDecl:
			for _, b := range init.LexicalDeclaration.List {
				patternNames(b.Target, add)
			}
		}
	case *ast.ForInStatement:
		forIntoNames(n.Into, add)
	case *ast.ForOfStatement:
		forIntoNames(n.Into, add)
	case *ast.CatchStatement:
		if n.Parameter != nil {
			patternNames(n.Parameter, add)
		}
	}
	return names
}

func forIntoNames(into ast.ForInto, add func(string)) {
	switch i := into.(type) {
	case *ast.ForIntoVar:
		patternNames(i.Binding.Target, add)
	case *ast.ForDeclaration:
		patternNames(i.Target, add)
	}
}

// declaredNames collects the names declared directly by a statement
// list: variable and lexical declarations, function and class
// declarations.
func declaredNames(stmts []ast.Statement, add func(string)) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.VariableStatement:
			for _, b := range s.List {
				patternNames(b.Target, add)
			}
		case *ast.LexicalDeclaration:
			for _, b := range s.List {
				patternNames(b.Target, add)
			}
		case *ast.FunctionDeclaration:
			if s.Function.Name != nil {
				add(s.Function.Name.Name.String())
			}
		case *ast.ClassDeclaration:
			if s.Class.Name != nil {
				add(s.Class.Name.Name.String())
			}
		}
	}
}

// patternNames collects the names bound by a binding target, recursing
// through destructuring patterns.
func patternNames(target ast.Node, add func(string)) {
	switch t := target.(type) {
	case *ast.Identifier:
		add(t.Name.String())
	case *ast.ObjectPattern:
		for _, p := range t.Properties {
			switch prop := p.(type) {
			case *ast.PropertyShort:
				add(prop.Name.Name.String())
			case *ast.PropertyKeyed:
				patternNames(prop.Value, add)
			}
		}
		if t.Rest != nil {
			patternNames(t.Rest, add)
		}
	case *ast.ArrayPattern:
		for _, e := range t.Elements {
			if e != nil {
				patternNames(e, add)
			}
		}
		if t.Rest != nil {
			patternNames(t.Rest, add)
		}
	case *ast.AssignExpression:
		patternNames(t.Left, add)
	case *ast.SpreadElement:
		patternNames(t.Expression, add)
	}
}

func parameterNames(params *ast.ParameterList, add func(string)) {
	if params == nil {
		return
	}
	for _, b := range params.List {
		patternNames(b.Target, add)
	}
	if params.Rest != nil {
		patternNames(params.Rest, add)
	}
}
