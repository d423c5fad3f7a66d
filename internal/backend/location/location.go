// Package location implements parsing the location of a remote filesystem
// from a URI string.
package location

import (
	"strings"

	"github.com/restic/snaprepo/internal/errors"
)

// Location specifies the location of a remote filesystem, including the
// method of access and (possibly) credentials needed for access.
type Location struct {
	Scheme string
	Config interface{}
}

// NoPassword returns the location unchanged (there's no sensitive information there)
func NoPassword(s string) string {
	return s
}

// Parse extracts location information from the URI s, which must have the
// form scheme://rest. The registered factory for the scheme parses the rest.
func Parse(registry *Registry, s string) (u Location, err error) {
	scheme, ok := extractScheme(s)
	if !ok {
		return Location{}, errors.NewConfigError("uri", s, errors.New("expected scheme://..."))
	}

	factory := registry.Lookup(scheme)
	if factory == nil {
		return Location{}, errors.NewConfigError("uri", s, errors.Errorf("unsupported scheme %q, known schemes: %v",
			scheme, strings.Join(registry.Schemes(), ", ")))
	}

	u.Scheme = scheme
	u.Config, err = factory.ParseConfig(s)
	if err != nil {
		if errors.IsConfig(err) {
			return Location{}, err
		}
		return Location{}, errors.NewConfigError("uri", StripPassword(registry, s), err)
	}

	return u, nil
}

// StripPassword returns a displayable version of a location (with any
// sensitive information removed)
func StripPassword(registry *Registry, s string) string {
	scheme, ok := extractScheme(s)
	if !ok {
		return s
	}

	if factory := registry.Lookup(scheme); factory != nil {
		return factory.StripPassword(s)
	}
	return s
}

// HasScheme reports whether s starts with a registered scheme.
func HasScheme(registry *Registry, s string) bool {
	scheme, ok := extractScheme(s)
	return ok && registry.Lookup(scheme) != nil
}

func extractScheme(s string) (string, bool) {
	scheme, _, found := strings.Cut(s, "://")
	if !found || scheme == "" || strings.ContainsAny(scheme, "/?#@") {
		return "", false
	}
	return strings.ToLower(scheme), true
}
