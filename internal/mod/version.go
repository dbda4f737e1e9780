package mod

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blang/semver/v4"
)

// VersionConstraint restricts acceptable dependency versions. A nil
// constraint, or one parsed from "*", accepts anything.
//
// Accepted terms: "N.x", "N.M.x", "^V", "~V", an optional comparison
// operator followed by a version, and "*". Terms separated by spaces must
// all hold; alternatives are separated by "||".
type VersionConstraint struct {
	raw   string
	match semver.Range
}

var comparisonOps = []string{">=", "<=", "!=", "==", ">", "<", "="}

// ParseVersionConstraint parses a constraint expression.
func ParseVersionConstraint(s string) (*VersionConstraint, error) {
	raw := strings.Join(strings.Fields(s), " ")
	if raw == "" {
		return nil, fmt.Errorf("version constraint string is empty")
	}
	if raw == "*" {
		return &VersionConstraint{raw: raw}, nil
	}

	alternatives := strings.Split(raw, "||")
	expanded := make([]string, 0, len(alternatives))
	for _, alt := range alternatives {
		terms := strings.Fields(alt)
		if len(terms) == 0 {
			return nil, fmt.Errorf("invalid version constraint '%s': empty alternative", s)
		}
		parts := make([]string, 0, len(terms))
		for _, term := range terms {
			rng, err := expandTerm(term)
			if err != nil {
				return nil, fmt.Errorf("invalid version constraint '%s': %w", s, err)
			}
			parts = append(parts, rng)
		}
		expanded = append(expanded, strings.Join(parts, " "))
	}

	match, err := semver.ParseRange(strings.Join(expanded, " || "))
	if err != nil {
		return nil, fmt.Errorf("invalid version constraint '%s': %w", s, err)
	}
	return &VersionConstraint{raw: raw, match: match}, nil
}

// MustParseVersionConstraint panics if the constraint cannot be parsed.
func MustParseVersionConstraint(s string) *VersionConstraint {
	vc, err := ParseVersionConstraint(s)
	if err != nil {
		panic(err)
	}
	return vc
}

// Satisfies reports whether a semantic version meets the constraint.
// Unparseable versions never satisfy a non-wildcard constraint.
func (vc *VersionConstraint) Satisfies(version string) bool {
	if vc.Any() {
		return true
	}
	v, err := semver.ParseTolerant(strings.TrimSpace(version))
	if err != nil {
		return false
	}
	return vc.match(v)
}

// Any reports whether the constraint accepts every version.
func (vc *VersionConstraint) Any() bool {
	return vc == nil || vc.match == nil
}

func (vc *VersionConstraint) String() string {
	if vc == nil {
		return ""
	}
	return vc.raw
}

// expandTerm rewrites one shorthand term into blang range syntax.
func expandTerm(term string) (string, error) {
	switch {
	case term == "*":
		return ">=0.0.0", nil
	case strings.HasPrefix(term, "^"):
		v, err := parseVersion(term[1:])
		if err != nil {
			return "", err
		}
		upper := semver.Version{Major: v.Major + 1}
		if v.Major == 0 {
			upper = semver.Version{Minor: v.Minor + 1}
		}
		return fmt.Sprintf(">=%s <%s", v, upper), nil
	case strings.HasPrefix(term, "~"):
		v, err := parseVersion(term[1:])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(">=%s <%s", v, semver.Version{Major: v.Major, Minor: v.Minor + 1}), nil
	}

	if rng, ok, err := expandWildcard(term); ok || err != nil {
		return rng, err
	}

	op := "="
	for _, candidate := range comparisonOps {
		if rest, found := strings.CutPrefix(term, candidate); found {
			op, term = candidate, rest
			break
		}
	}
	if op == "==" {
		op = "="
	}
	v, err := parseVersion(term)
	if err != nil {
		return "", err
	}
	return op + v.String(), nil
}

// expandWildcard handles "N.x" and "N.M.x" (or "*" in place of "x").
func expandWildcard(term string) (string, bool, error) {
	parts := strings.Split(term, ".")
	last := parts[len(parts)-1]
	if len(parts) < 2 || len(parts) > 3 || (last != "x" && last != "*") {
		return "", false, nil
	}

	nums := make([]uint64, 0, 2)
	for _, p := range parts[:len(parts)-1] {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return "", true, fmt.Errorf("wildcard component %q is not a non-negative number", p)
		}
		nums = append(nums, n)
	}

	if len(nums) == 1 {
		lower := semver.Version{Major: nums[0]}
		upper := semver.Version{Major: nums[0] + 1}
		return fmt.Sprintf(">=%s <%s", lower, upper), true, nil
	}
	lower := semver.Version{Major: nums[0], Minor: nums[1]}
	upper := semver.Version{Major: nums[0], Minor: nums[1] + 1}
	return fmt.Sprintf(">=%s <%s", lower, upper), true, nil
}

func parseVersion(s string) (semver.Version, error) {
	if s == "" {
		return semver.Version{}, fmt.Errorf("missing version")
	}
	v, err := semver.ParseTolerant(s)
	if err != nil {
		return semver.Version{}, fmt.Errorf("version %q: %w", s, err)
	}
	return v, nil
}
