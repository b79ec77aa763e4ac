// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/samber/oops"
)

// TermKind distinguishes the two shapes of a trait term.
type TermKind uint8

// Term kinds.
const (
	// TermTrait requires one named trait.
	TermTrait TermKind = iota + 1
	// TermAnyOf requires at least one of several traits.
	TermAnyOf
)

func (k TermKind) String() string {
	switch k {
	case TermTrait:
		return "trait"
	case TermAnyOf:
		return "any_of"
	default:
		return "unknown"
	}
}

// Term is one clause of a trait expression.
type Term struct {
	kind  TermKind
	names []string
}

// Trait returns a term satisfied when name is among the user's traits.
func Trait(name string) Term {
	return Term{kind: TermTrait, names: []string{name}}
}

// AnyOf returns a term satisfied when at least one of names is among the
// user's traits. AnyOf with no names is never satisfied and fails validation.
func AnyOf(names ...string) Term {
	return Term{kind: TermAnyOf, names: slices.Clone(names)}
}

// Kind returns the term's shape.
func (t Term) Kind() TermKind { return t.kind }

// Names returns the trait names referenced by the term.
func (t Term) Names() []string { return slices.Clone(t.names) }

// Matches reports whether traits satisfies the term.
func (t Term) Matches(traits TraitSet) bool {
	for _, n := range t.names {
		if traits.Has(n) {
			return true
		}
	}
	return false
}

func (t Term) String() string {
	if t.kind == TermTrait {
		return t.names[0]
	}
	return strings.Join(t.names, " | ")
}

func (t Term) validate() error {
	switch t.kind {
	case TermTrait:
		if len(t.names) != 1 || t.names[0] == "" {
			return oops.In("access").Code("INVALID_TRAIT_EXPRESSION").New("trait name cannot be empty")
		}
	case TermAnyOf:
		if len(t.names) == 0 {
			return oops.In("access").Code("INVALID_TRAIT_EXPRESSION").New("any-of term needs at least one trait")
		}
		for _, n := range t.names {
			if n == "" {
				return oops.In("access").Code("INVALID_TRAIT_EXPRESSION").New("trait name cannot be empty")
			}
		}
	default:
		return oops.In("access").Code("INVALID_TRAIT_EXPRESSION").With("kind", t.kind).New("unknown term kind")
	}
	return nil
}

// MarshalJSON encodes a Trait term as a string and an AnyOf term as an array.
func (t Term) MarshalJSON() ([]byte, error) {
	if t.kind == TermTrait {
		return json.Marshal(t.names[0])
	}
	if t.names == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.names)
}

// UnmarshalJSON accepts either a string (Trait) or an array of strings (AnyOf).
func (t *Term) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return oops.In("access").Code("INVALID_TRAIT_EXPRESSION").Wrap(err)
		}
		*t = Trait(name)
		return t.validate()
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil || names == nil {
		return oops.In("access").
			Code("INVALID_TRAIT_EXPRESSION").
			With("term", string(data)).
			New("term must be a string or an array of strings")
	}
	*t = AnyOf(names...)
	return t.validate()
}

// Expression is an ordered conjunction of terms.
// The empty expression matches every person; kiosk and anonymous users must
// match a real term.
type Expression []Term

// Matches reports whether traits satisfies every term of e.
// When e is empty the result is allowEmpty. The resolver passes false for
// kiosk and anonymous users, so an empty expression matches every person
// but no kiosk or anonymous account.
func (e Expression) Matches(traits TraitSet, allowEmpty bool) bool {
	if len(e) == 0 {
		return allowEmpty
	}
	for _, term := range e {
		if !term.Matches(traits) {
			return false
		}
	}
	return true
}

// Validate checks every term of e.
func (e Expression) Validate() error {
	for i, term := range e {
		if err := term.validate(); err != nil {
			return oops.In("access").With("term_index", i).Wrap(err)
		}
	}
	return nil
}

func (e Expression) String() string {
	if len(e) == 0 {
		return "*"
	}
	parts := make([]string, len(e))
	for i, t := range e {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

// MarshalJSON encodes the empty expression as [] rather than null.
func (e Expression) MarshalJSON() ([]byte, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Term(e))
}

// UnmarshalJSON rejects null so a missing expression is never read as "everyone".
func (e *Expression) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return oops.In("access").Code("INVALID_TRAIT_EXPRESSION").New("expression cannot be null")
	}
	var terms []Term
	if err := json.Unmarshal(data, &terms); err != nil {
		if _, ok := oops.AsOops(err); ok {
			return err
		}
		return oops.In("access").Code("INVALID_TRAIT_EXPRESSION").Wrap(err)
	}
	if terms == nil {
		terms = []Term{}
	}
	*e = terms
	return nil
}

// TraitSet is the set of opaque traits carried by a user's identity.
type TraitSet map[string]struct{}

// NewTraitSet builds a set from a trait list.
func NewTraitSet(traits ...string) TraitSet {
	s := make(TraitSet, len(traits))
	for _, t := range traits {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s TraitSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// TraitGrants maps a role to the trait expression that grants it implicitly.
type TraitGrants map[string]Expression

// Matching returns the roles whose expression traits satisfies, sorted.
func (g TraitGrants) Matching(traits TraitSet, allowEmpty bool) []string {
	var out []string
	for role, expr := range g {
		if expr.Matches(traits, allowEmpty) {
			out = append(out, role)
		}
	}
	slices.Sort(out)
	return out
}

// Validate checks role names and every expression.
func (g TraitGrants) Validate() error {
	for role, expr := range g {
		if strings.TrimSpace(role) == "" {
			return oops.In("access").Code("INVALID_TRAIT_EXPRESSION").New("role name cannot be empty")
		}
		if err := expr.Validate(); err != nil {
			return oops.In("access").With("role", role).Wrap(err)
		}
	}
	return nil
}

// Clone returns a deep copy of g.
func (g TraitGrants) Clone() TraitGrants {
	out := make(TraitGrants, len(g))
	for role, expr := range g {
		out[role] = slices.Clone(expr)
	}
	return out
}

// DefaultWorldTraitGrants returns the trait grants a new world starts with.
func DefaultWorldTraitGrants() TraitGrants {
	return TraitGrants{
		"attendee":     {Trait("attendee")},
		"admin":        {Trait("admin")},
		"scheduleuser": {Trait("schedule-update")},
	}
}

// DefaultRoomTraitGrants returns the trait grants a new room starts with:
// every person may view it.
func DefaultRoomTraitGrants() TraitGrants {
	return TraitGrants{"viewer": {}}
}
