package repository

import (
	"net/url"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/restic/snaprepo/internal/backend/location"
	"github.com/restic/snaprepo/internal/errors"
)

// Location is a resolved repository location: the backend scheme and
// configuration plus the fully qualified remote path.
type Location struct {
	location.Location

	uri     string
	display string
}

// String returns the fully qualified remote path without credentials.
func (l Location) String() string {
	return l.display
}

// Resolve validates p and joins it to the path of uri. The scheme of uri
// must be known to registry. Nothing is sent to the remote filesystem.
func Resolve(registry *location.Registry, uri, p string) (Location, error) {
	if !location.HasScheme(registry, uri) {
		_, err := location.Parse(registry, uri)
		if err == nil {
			err = errors.NewConfigError("uri", uri, errors.New("unknown scheme"))
		}
		return Location{}, err
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, errors.NewConfigError("uri", location.StripPassword(registry, uri), err)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return Location{}, errors.NewConfigError("uri", location.StripPassword(registry, uri),
			errors.New("query and fragment are not supported"))
	}

	if err := validatePath(p); err != nil {
		return Location{}, err
	}

	u.Path = path.Join("/", u.Path, p)
	u.RawPath = ""
	uri = u.String()

	loc, err := location.Parse(registry, uri)
	if err != nil {
		return Location{}, err
	}

	return Location{
		Location: loc,
		uri:      uri,
		display:  location.StripPassword(registry, uri),
	}, nil
}

// validatePath checks every segment of the slash separated path p.
func validatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.NewConfigError("path", p, errors.New("empty path"))
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			continue
		}
		if err := validateSegment(seg); err != nil {
			return errors.NewConfigError("path", p, errors.Wrapf(err, "segment %q", seg))
		}
	}
	return nil
}

// validateSegment checks a single path element. It is used for repository
// paths, container and blob names.
func validateSegment(seg string) error {
	switch {
	case seg == "":
		return errors.New("empty name")
	case seg == "." || seg == "..":
		return errors.New("relative path elements are not allowed")
	case !utf8.ValidString(seg):
		return errors.New("invalid UTF-8")
	case strings.HasPrefix(seg, "~"):
		return errors.New("must not start with '~'")
	}

	if i := strings.IndexAny(seg, ":#$@/"); i >= 0 {
		return errors.Errorf("character %q is not allowed", seg[i])
	}

	for _, r := range seg {
		if unicode.IsControl(r) {
			return errors.Errorf("control character %U is not allowed", r)
		}
	}
	return nil
}
