package spawn

import "github.com/dop251/goja/ast"

// walk calls visit for node and, if visit returns true, for every child
// of node in source order. goja's ast package ships no visitor, so the
// traversal is a type switch over the node set weave cares about.
func walk(node ast.Node, visit func(ast.Node) bool) {
	if node == nil || isNilNode(node) {
		return
	}
	if !visit(node) {
		return
	}
	for _, child := range children(node) {
		walk(child, visit)
	}
}

// isNilNode guards against typed nils stored in interface fields.
func isNilNode(node ast.Node) bool {
	switch n := node.(type) {
	case *ast.Identifier:
		return n == nil
	case *ast.BlockStatement:
		return n == nil
	case *ast.FunctionLiteral:
		return n == nil
	case *ast.ClassLiteral:
		return n == nil
	case *ast.CatchStatement:
		return n == nil
	case *ast.ParameterList:
		return n == nil
	}
	return false
}

func children(node ast.Node) []ast.Node {
	var out []ast.Node
	add := func(n ast.Node) {
		if n != nil && !isNilNode(n) {
			out = append(out, n)
		}
	}
	addExprs := func(list []ast.Expression) {
		for _, e := range list {
			if e != nil {
				add(e)
			}
		}
	}
	addStmts := func(list []ast.Statement) {
		for _, s := range list {
			if s != nil {
				add(s)
			}
		}
	}
	addBindings := func(list []*ast.Binding) {
		for _, b := range list {
			if b != nil {
				add(b)
			}
		}
	}
	addProperties := func(list []ast.Property) {
		for _, p := range list {
			if p != nil {
				add(p)
			}
		}
	}

	switch n := node.(type) {
	case *ast.Program:
		addStmts(n.Body)

	// statements
	case *ast.BlockStatement:
		addStmts(n.List)
	case *ast.ExpressionStatement:
		add(n.Expression)
	case *ast.VariableStatement:
		addBindings(n.List)
	case *ast.LexicalDeclaration:
		addBindings(n.List)
	case *ast.FunctionDeclaration:
		add(n.Function)
	case *ast.ClassDeclaration:
		add(n.Class)
	case *ast.ReturnStatement:
		add(n.Argument)
	case *ast.IfStatement:
		add(n.Test)
		add(n.Consequent)
		add(n.Alternate)
	case *ast.ForStatement:
		add(n.Initializer)
		add(n.Test)
		add(n.Update)
		add(n.Body)
	case *ast.ForInStatement:
		add(n.Into)
		add(n.Source)
		add(n.Body)
	case *ast.ForOfStatement:
		add(n.Into)
		add(n.Source)
		add(n.Body)
	case *ast.WhileStatement:
		add(n.Test)
		add(n.Body)
	case *ast.DoWhileStatement:
		add(n.Test)
		add(n.Body)
	case *ast.SwitchStatement:
		add(n.Discriminant)
		for _, c := range n.Body {
			if c != nil {
				add(c)
			}
		}
	case *ast.CaseStatement:
		add(n.Test)
		addStmts(n.Consequent)
	case *ast.TryStatement:
		add(n.Body)
		add(n.Catch)
		add(n.Finally)
	case *ast.CatchStatement:
		if n.Parameter != nil {
			add(n.Parameter)
		}
		add(n.Body)
	case *ast.ThrowStatement:
		add(n.Argument)
	case *ast.LabelledStatement:
		add(n.Statement)
	case *ast.WithStatement:
		add(n.Object)
		add(n.Body)

	// expressions
	case *ast.CallExpression:
		add(n.Callee)
		addExprs(n.ArgumentList)
	case *ast.NewExpression:
		add(n.Callee)
		addExprs(n.ArgumentList)
	case *ast.DotExpression:
		add(n.Left)
	case *ast.PrivateDotExpression:
		add(n.Left)
	case *ast.BracketExpression:
		add(n.Left)
		add(n.Member)
	case *ast.AssignExpression:
		add(n.Left)
		add(n.Right)
	case *ast.BinaryExpression:
		add(n.Left)
		add(n.Right)
	case *ast.UnaryExpression:
		add(n.Operand)
	case *ast.ConditionalExpression:
		add(n.Test)
		add(n.Consequent)
		add(n.Alternate)
	case *ast.SequenceExpression:
		addExprs(n.Sequence)
	case *ast.AwaitExpression:
		add(n.Argument)
	case *ast.ArrayLiteral:
		addExprs(n.Value)
	case *ast.ObjectLiteral:
		addProperties(n.Value)
	case *ast.SpreadElement:
		add(n.Expression)
	case *ast.PropertyShort:
		add(&n.Name)
		add(n.Initializer)
	case *ast.PropertyKeyed:
		add(n.Key)
		add(n.Value)
	case *ast.TemplateLiteral:
		add(n.Tag)
		addExprs(n.Expressions)
	case *ast.FunctionLiteral:
		add(n.Name)
		add(n.ParameterList)
		add(n.Body)
	case *ast.ArrowFunctionLiteral:
		add(n.ParameterList)
		add(n.Body)
	case *ast.ExpressionBody:
		add(n.Expression)
	case *ast.ClassLiteral:
		add(n.Name)
		add(n.SuperClass)
		for _, e := range n.Body {
			if e != nil {
				add(e)
			}
		}
	case *ast.MethodDefinition:
		add(n.Key)
		add(n.Body)
	case *ast.FieldDefinition:
		add(n.Key)
		add(n.Initializer)
	case *ast.ParameterList:
		addBindings(n.List)
		add(n.Rest)
	case *ast.Binding:
		add(n.Target)
		add(n.Initializer)
	case *ast.ObjectPattern:
		addProperties(n.Properties)
		add(n.Rest)
	case *ast.ArrayPattern:
		addExprs(n.Elements)
		add(n.Rest)
	case *ast.Optional:
		add(n.Expression)
	case *ast.OptionalChain:
		add(n.Expression)

	// loop initializers and targets
	case *ast.ForLoopInitializerExpression:
		add(n.Expression)
	case *ast.ForLoopInitializerVarDeclList:
		addBindings(n.List)
	case *ast.ForLoopInitializerLexicalDecl:
		addBindings(n.LexicalDeclaration.List)
	case *ast.ForIntoVar:
		add(n.Binding)
	case *ast.ForIntoExpression:
		add(n.Expression)
	case *ast.ForDeclaration:
		add(n.Target)
	}
	return out
}

// findPath returns the ancestor chain from root down to target, both
// inclusive, or nil when target is not in the tree.
func findPath(root ast.Node, target ast.Node) []ast.Node {
	var path []ast.Node
	var descend func(node ast.Node) bool
	descend = func(node ast.Node) bool {
		path = append(path, node)
		if node == target {
			return true
		}
		for _, child := range children(node) {
			if descend(child) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if descend(root) {
		return path
	}
	return nil
}
