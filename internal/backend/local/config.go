package local

import (
	"net/url"
	"path/filepath"

	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/options"
)

// Config holds all information needed to open a local repository.
type Config struct {
	Path string

	Connections uint `option:"connections" help:"set a limit for the number of concurrent operations (default: 2)"`
	NoSync      bool `option:"nosync" help:"do not fsync written chunks (faster, unsafe on power loss)"`
}

// NewConfig returns a new config with default options applied.
func NewConfig() Config {
	return Config{
		Connections: 2,
	}
}

func init() {
	options.Register("file", Config{})
}

// ParseConfig parses a file:// location. Only local paths are supported,
// so the host part must be empty or "localhost".
func ParseConfig(s string) (*Config, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if u.Scheme != "file" {
		return nil, errors.New(`invalid format, scheme "file" not found`)
	}

	if u.Host != "" && u.Host != "localhost" {
		return nil, errors.Errorf("remote host %q not supported for file locations", u.Host)
	}

	if u.Path == "" {
		return nil, errors.New("file location needs a path")
	}

	cfg := NewConfig()
	cfg.Path = filepath.FromSlash(u.Path)
	return &cfg, nil
}
