package spawn

import (
	"strconv"
	"strings"
)

const dispatchName = "$dispatch"

// EmitBridge renders the expression a caller evaluates in its own scope
// to start the job:
//
//	$dispatch({a:a,b:b},["b"],"<fn source>","<caller path>","<site key>")
//
// Each name:name pair captures the runtime value of one free variable;
// the top-level names are listed separately so the dispatch entry can
// filter them.
func EmitBridge(analysis *Analysis, site CallSite) string {
	descriptor := analysis.Descriptor

	var pairs []string
	for _, name := range descriptor.Locals {
		pairs = append(pairs, name+":"+name)
	}
	for _, name := range descriptor.TopLevels {
		pairs = append(pairs, name+":"+name)
	}

	var tops []string
	for _, name := range descriptor.TopLevels {
		tops = append(tops, quoteJS(name))
	}

	var b strings.Builder
	b.WriteString(dispatchName)
	b.WriteString("({")
	b.WriteString(strings.Join(pairs, ","))
	b.WriteString("},[")
	b.WriteString(strings.Join(tops, ","))
	b.WriteString("],")
	b.WriteString(quoteJS(analysis.FnSource))
	b.WriteString(",")
	b.WriteString(quoteJS(site.Path))
	b.WriteString(",")
	b.WriteString(quoteJS(site.Key()))
	b.WriteString(")")
	return b.String()
}

// quoteJS quotes a string for embedding in JavaScript source.
// strconv.Quote escapes the U+2028/U+2029 separators as \u sequences,
// which keeps the output a valid JS string literal.
func quoteJS(s string) string {
	return strconv.Quote(s)
}
