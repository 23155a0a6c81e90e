// Package version parses and compares the managed tree's release versions and
// decides whether an update is available.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/lucasnoah/skillctl/internal/failure"
)

// Version is a MAJOR.MINOR.PATCH release number.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Parse accepts exactly three dot-separated non-negative integers.
// Anything else (prefixes, suffixes, leading zeros, whitespace) is rejected.
func Parse(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q: want MAJOR.MINOR.PATCH", failure.ErrMalformedVersion, s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := parseComponent(p)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %v", failure.ErrMalformedVersion, s, err)
		}
		nums[i] = n
	}
	v := Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}
	if !semver.IsValid(v.semver()) {
		return Version{}, fmt.Errorf("%w: %q", failure.ErrMalformedVersion, s)
	}
	return v, nil
}

func parseComponent(p string) (int, error) {
	if p == "" {
		return 0, fmt.Errorf("empty component")
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("component %q is not a non-negative integer", p)
		}
	}
	if len(p) > 1 && p[0] == '0' {
		return 0, fmt.Errorf("component %q has a leading zero", p)
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0, fmt.Errorf("component %q out of range", p)
	}
	return n, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the dotted form, which Parse accepts.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v Version) semver() string {
	return "v" + v.String()
}

// Compare returns -1, 0 or +1 as a is less than, equal to or greater than b.
// Major decides first, then minor, then patch.
func Compare(a, b Version) int {
	return semver.Compare(a.semver(), b.semver())
}

// IsUpdateAvailable reports whether remote is strictly newer than local.
func IsUpdateAvailable(local, remote Version) bool {
	return Compare(local, remote) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using Parse.
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
