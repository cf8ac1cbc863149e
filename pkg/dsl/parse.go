package dsl

import (
	"fmt"
	"strings"

	"github.com/CustodyZero/archon/pkg/taxonomy"
)

// CompileDSL parses source text of the form:
//
//	(allow|deny) <kind> where <field> matches "<glob>" [and <field> matches "<glob>"]*
//
// and produces the same CompiledDRR that CompileStructured would produce
// from the equivalent structured Rule — the DSL/structured equivalence
// property of spec.md §8.
func CompileDSL(id, source string) (CompiledDRR, error) {
	rule, err := parse(id, source)
	if err != nil {
		return CompiledDRR{}, err
	}
	return CompileStructured(rule)
}

// parse implements the grammar above with a small hand-written tokenizer.
// The grammar has no disjunction between restriction sources by design: it
// admits only a single effect and a conjunction of "matches" conditions.
func parse(id, source string) (Rule, error) {
	toks := tokenize(source)
	if len(toks) == 0 {
		return Rule{}, fmt.Errorf("%w: empty source", ErrSyntax)
	}

	pos := 0
	next := func() (string, bool) {
		if pos >= len(toks) {
			return "", false
		}
		t := toks[pos]
		pos++
		return t, true
	}
	peekEOF := func() bool { return pos >= len(toks) }

	effectTok, ok := next()
	if !ok {
		return Rule{}, fmt.Errorf("%w: expected allow|deny", ErrSyntax)
	}
	var effect Effect
	switch strings.ToLower(effectTok) {
	case "allow":
		effect = Allow
	case "deny":
		effect = Deny
	default:
		return Rule{}, fmt.Errorf("%w: expected allow|deny, got %q", ErrSyntax, effectTok)
	}

	kindTok, ok := next()
	if !ok {
		return Rule{}, fmt.Errorf("%w: expected capability kind", ErrSyntax)
	}
	kind := taxonomy.Kind(kindTok)
	if !taxonomy.Sound(kind) {
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownCapabilityKind, kindTok)
	}

	whereTok, ok := next()
	if !ok || strings.ToLower(whereTok) != "where" {
		return Rule{}, fmt.Errorf("%w: expected 'where'", ErrSyntax)
	}

	var conditions []Condition
	for {
		field, ok := next()
		if !ok {
			return Rule{}, fmt.Errorf("%w: expected field after 'where'/'and'", ErrSyntax)
		}

		opTok, ok := next()
		if !ok || strings.ToLower(opTok) != "matches" {
			return Rule{}, fmt.Errorf("%w: expected 'matches', got %q", ErrSyntax, opTok)
		}

		valTok, ok := next()
		if !ok {
			return Rule{}, fmt.Errorf("%w: expected quoted glob literal", ErrSyntax)
		}
		value, err := unquote(valTok)
		if err != nil {
			return Rule{}, err
		}

		conditions = append(conditions, Condition{Field: field, Op: Matches, Value: value})

		if peekEOF() {
			break
		}
		connector, _ := next()
		if strings.ToLower(connector) != "and" {
			return Rule{}, fmt.Errorf("%w: unexpected token %q (only 'and' conjunction supported)", ErrSyntax, connector)
		}
	}

	if len(conditions) == 0 {
		return Rule{}, fmt.Errorf("%w: rule %q", ErrEmptyConditions, id)
	}

	return Rule{ID: id, CapabilityKind: kind, Effect: effect, Conditions: conditions}, nil
}

// tokenize splits source on whitespace, except inside double-quoted string
// literals, which are kept intact (quotes included) as a single token.
func tokenize(source string) []string {
	var toks []string
	var cur strings.Builder
	inQuote := false

	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}

	for _, r := range source {
		switch {
		case r == '"':
			cur.WriteRune(r)
			if inQuote {
				flush()
			}
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

func unquote(tok string) (string, error) {
	if len(tok) < 2 || tok[0] != '"' || tok[len(tok)-1] != '"' {
		return "", fmt.Errorf("%w: expected quoted string literal, got %q", ErrSyntax, tok)
	}
	return tok[1 : len(tok)-1], nil
}
