// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package traitexpr parses the text form of trait expressions used in
// configuration files and on the command line.
//
// Grammar:
//
//	expression = "*" | [ term { "," term } ]
//	term       = name { "|" name } | "(" name { "|" name } ")"
//	name       = bare-word | quoted-string
//
// Terms are ANDed. A term with a single bare name requires that trait; a term
// listing several names, or any parenthesized term, requires at least one of
// them. The empty text and "*" both denote the empty expression.
package traitexpr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"

	"github.com/holomush/worldgate/internal/access"
)

var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Star", Pattern: `\*`},
	{Name: "Punct", Pattern: `[(),|]`},
	{Name: "Ident", Pattern: `[^\s,|()"*]+`},
	{Name: "whitespace", Pattern: `\s+`},
})

type exprAST struct {
	All   bool       `parser:"( @Star"`
	Terms []*termAST `parser:"| ( @@ ( ',' @@ )* ) )?"`
}

type termAST struct {
	Group []string `parser:"  '(' @(Ident | String) ( '|' @(Ident | String) )* ')'"`
	Names []string `parser:"| @(Ident | String) ( '|' @(Ident | String) )*"`
}

var parser = participle.MustBuild[exprAST](
	participle.Lexer(exprLexer),
	participle.Unquote("String"),
)

// Parse converts the text form into an expression.
func Parse(text string) (access.Expression, error) {
	ast, err := parser.ParseString("", text)
	if err != nil {
		return nil, oops.In("traitexpr").
			Code("INVALID_TRAIT_EXPRESSION").
			With("expression", text).
			Wrapf(err, "parsing trait expression")
	}
	if ast.All {
		return access.Expression{}, nil
	}
	expr := make(access.Expression, 0, len(ast.Terms))
	for _, t := range ast.Terms {
		switch {
		case t.Group != nil:
			expr = append(expr, access.AnyOf(t.Group...))
		case len(t.Names) == 1:
			expr = append(expr, access.Trait(t.Names[0]))
		default:
			expr = append(expr, access.AnyOf(t.Names...))
		}
	}
	if err := expr.Validate(); err != nil {
		return nil, oops.In("traitexpr").With("expression", text).Wrap(err)
	}
	return expr, nil
}

// MustParse is Parse for expressions known to be valid. It panics on error.
func MustParse(text string) access.Expression {
	expr, err := Parse(text)
	if err != nil {
		panic(fmt.Sprintf("traitexpr: %v", err))
	}
	return expr
}

var bareName = regexp.MustCompile(`^[^\s,|()"*]+$`)

// Format renders an expression in the text form accepted by Parse.
func Format(expr access.Expression) string {
	if len(expr) == 0 {
		return "*"
	}
	parts := make([]string, len(expr))
	for i, term := range expr {
		names := term.Names()
		quoted := make([]string, len(names))
		for j, n := range names {
			quoted[j] = formatName(n)
		}
		joined := strings.Join(quoted, " | ")
		if term.Kind() == access.TermAnyOf && len(names) < 2 {
			joined = "(" + joined + ")"
		}
		parts[i] = joined
	}
	return strings.Join(parts, ", ")
}

func formatName(n string) string {
	if bareName.MatchString(n) {
		return n
	}
	return strconv.Quote(n)
}

// ParseGrants parses a role → text expression map.
func ParseGrants(src map[string]string) (access.TraitGrants, error) {
	out := make(access.TraitGrants, len(src))
	for role, text := range src {
		expr, err := Parse(text)
		if err != nil {
			return nil, oops.In("traitexpr").With("role", role).Wrap(err)
		}
		out[role] = expr
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// FormatGrants renders trait grants in text form.
func FormatGrants(g access.TraitGrants) map[string]string {
	out := make(map[string]string, len(g))
	for role, expr := range g {
		out[role] = Format(expr)
	}
	return out
}
