package model

import (
	"errors"
	"fmt"
	"slices"
)

// ServiceVersion is one token of a service's version set, e.g. "v2".
type ServiceVersion string

// String implements fmt.Stringer.
func (v ServiceVersion) String() string {
	return string(v)
}

// VersionSet is the ordered set of versions a service declares. The last
// member is the latest.
type VersionSet struct {
	name     string
	versions []ServiceVersion
}

// NewVersionSet builds a version set from versions in ascending order.
func NewVersionSet(name string, versions ...ServiceVersion) (*VersionSet, error) {
	if len(versions) == 0 {
		return nil, fmt.Errorf("version set %q: at least one version is required", name)
	}
	seen := make(map[ServiceVersion]bool, len(versions))
	for _, v := range versions {
		if v == "" {
			return nil, fmt.Errorf("version set %q: empty version token", name)
		}
		if seen[v] {
			return nil, fmt.Errorf("version set %q: duplicate version %q", name, v)
		}
		seen[v] = true
	}
	return &VersionSet{name: name, versions: slices.Clone(versions)}, nil
}

// MustVersionSet is like NewVersionSet but panics on error. It is meant for
// package-level declarations.
func MustVersionSet(name string, versions ...ServiceVersion) *VersionSet {
	s, err := NewVersionSet(name, versions...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the service name the set belongs to.
func (s *VersionSet) Name() string {
	return s.name
}

// Latest returns the newest version.
func (s *VersionSet) Latest() ServiceVersion {
	return s.versions[len(s.versions)-1]
}

// All returns the versions in ascending order.
func (s *VersionSet) All() []ServiceVersion {
	return slices.Clone(s.versions)
}

// Contains reports whether v is a member.
func (s *VersionSet) Contains(v ServiceVersion) bool {
	return slices.Contains(s.versions, v)
}

// Compare orders two members by declaration position. Unknown versions sort
// before every member.
func (s *VersionSet) Compare(a, b ServiceVersion) int {
	return slices.Index(s.versions, a) - slices.Index(s.versions, b)
}

// Parse resolves a raw token. An empty token selects the latest version.
func (s *VersionSet) Parse(raw string) (ServiceVersion, error) {
	if raw == "" {
		return s.Latest(), nil
	}
	v := ServiceVersion(raw)
	if !s.Contains(v) {
		return "", NewValidationError("", []FieldError{{
			Field:   "version",
			Code:    "UNSUPPORTED",
			Message: fmt.Sprintf("%q is not a %s version (supported: %v)", raw, s.name, s.versions),
		}})
	}
	return v, nil
}

// ErrNoVersion is returned when an operation has no variant for the pinned
// version.
var ErrNoVersion = errors.New("operation not available in this service version")
