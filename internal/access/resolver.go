// Package access decides whether a session may open a screen or
// sub-resource, given the static route permission map.
//
// Resolution order for a requested path, first match wins:
//
//  1. exact match against a literal route
//  2. pattern match, ":name" segments matching any single segment
//  3. the same two steps for each enclosing prefix, most specific first
//  4. nothing matched: the path is open
//
// Patterns are compiled once, when the Resolver is built.
package access

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

// Pattern is a compiled route pattern.
type Pattern struct {
	raw        string
	segments   []string
	dynamic    []bool
	literals   int
	permission string
	order      int
}

// CompilePattern parses a route template such as "/rounds/:id/edit".
func CompilePattern(raw string) (Pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return Pattern{}, fmt.Errorf("pattern %q must start with /", raw)
	}
	if path.Clean(raw) != raw {
		return Pattern{}, fmt.Errorf("pattern %q is not in canonical form (want %q)", raw, path.Clean(raw))
	}

	p := Pattern{raw: raw, segments: split(raw)}
	p.dynamic = make([]bool, len(p.segments))
	for i, seg := range p.segments {
		if strings.HasPrefix(seg, ":") {
			if len(seg) == 1 {
				return Pattern{}, fmt.Errorf("pattern %q has an unnamed parameter", raw)
			}
			p.dynamic[i] = true
			continue
		}
		p.literals++
	}
	return p, nil
}

// String returns the pattern as written.
func (p Pattern) String() string {
	return p.raw
}

// Literal reports whether the pattern has no dynamic segments.
func (p Pattern) Literal() bool {
	return p.literals == len(p.segments)
}

// Match reports whether path matches the pattern: same number of segments and
// equal literal segments.
func (p Pattern) Match(requested string) bool {
	return p.matchSegments(split(normalize(requested)))
}

func (p Pattern) matchSegments(segs []string) bool {
	if len(segs) != len(p.segments) {
		return false
	}
	for i, seg := range segs {
		if !p.dynamic[i] && seg != p.segments[i] {
			return false
		}
	}
	return true
}

// shape identifies patterns that would match exactly the same paths.
func (p Pattern) shape() string {
	parts := make([]string, len(p.segments))
	for i, seg := range p.segments {
		if p.dynamic[i] {
			parts[i] = ":"
			continue
		}
		parts[i] = seg
	}
	return "/" + strings.Join(parts, "/")
}

// Match describes which route decided a path's requirement.
type Match struct {
	Pattern    string
	Permission string
	// Inherited is true when the route belongs to an enclosing prefix
	// rather than the requested path itself.
	Inherited bool
}

// Decision is the outcome of an access check.
type Decision struct {
	Path       string
	Allowed    bool
	Permission string // empty when no permission is required
	Matched    *Match
}

// Resolver answers route permission questions. It is immutable and safe for
// concurrent use.
type Resolver struct {
	exact   map[string]Pattern
	dynamic map[int][]Pattern
	count   int
}

// NewResolver compiles routes. Malformed or duplicate patterns are reported
// together in a *domain.ConfigurationError.
func NewResolver(routes []domain.RoutePattern) (*Resolver, error) {
	r := &Resolver{
		exact:   make(map[string]Pattern),
		dynamic: make(map[int][]Pattern),
	}

	var problems []string
	shapes := make(map[string]string, len(routes))
	for i, route := range routes {
		p, err := CompilePattern(route.Pattern)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if prev, dup := shapes[p.shape()]; dup {
			problems = append(problems, fmt.Sprintf("pattern %q duplicates %q", route.Pattern, prev))
			continue
		}
		shapes[p.shape()] = route.Pattern

		p.permission = strings.TrimSpace(route.Permission)
		p.order = i
		if p.Literal() {
			r.exact[p.raw] = p
		} else {
			r.dynamic[len(p.segments)] = append(r.dynamic[len(p.segments)], p)
		}
		r.count++
	}
	if len(problems) > 0 {
		return nil, &domain.ConfigurationError{Source: "route map", Problems: problems}
	}

	// More literal segments first, then declaration order.
	for n := range r.dynamic {
		slices.SortStableFunc(r.dynamic[n], func(a, b Pattern) int {
			if a.literals != b.literals {
				return b.literals - a.literals
			}
			return a.order - b.order
		})
	}
	return r, nil
}

// Len returns the number of compiled routes.
func (r *Resolver) Len() int {
	return r.count
}

// Lookup finds the route governing path, walking up to enclosing prefixes
// when the path itself is not listed.
func (r *Resolver) Lookup(requested string) (Match, bool) {
	segs := split(normalize(requested))
	for n := len(segs); n >= 0; n-- {
		if p, ok := r.match(segs[:n]); ok {
			return Match{Pattern: p.raw, Permission: p.permission, Inherited: n < len(segs)}, true
		}
	}
	return Match{}, false
}

func (r *Resolver) match(segs []string) (Pattern, bool) {
	if p, ok := r.exact["/"+strings.Join(segs, "/")]; ok {
		return p, true
	}
	for _, p := range r.dynamic[len(segs)] {
		if p.matchSegments(segs) {
			return p, true
		}
	}
	return Pattern{}, false
}

// RequiredPermission returns the permission needed to view path. The boolean
// is false when the path requires none.
func (r *Resolver) RequiredPermission(requested string) (string, bool) {
	m, ok := r.Lookup(requested)
	if !ok || m.Permission == "" {
		return "", false
	}
	return m.Permission, true
}

// IsAllowed reports whether a session holding perms may open path.
func (r *Resolver) IsAllowed(requested string, perms domain.PermissionSet) bool {
	required, ok := r.RequiredPermission(requested)
	return !ok || perms.Has(required)
}

// Check is IsAllowed with the details needed to explain a denial.
func (r *Resolver) Check(requested string, perms domain.PermissionSet) Decision {
	d := Decision{Path: normalize(requested), Allowed: true}
	if m, ok := r.Lookup(requested); ok {
		d.Matched = &m
		d.Permission = m.Permission
		d.Allowed = perms.Has(m.Permission)
	}
	return d
}

// normalize strips query and fragment and returns a clean absolute path.
func normalize(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return path.Clean("/" + p)
}

func split(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
