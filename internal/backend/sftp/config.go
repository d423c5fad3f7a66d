package sftp

import (
	"net/url"
	"path"

	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/options"
)

// Config collects all information required to connect to an sftp server.
type Config struct {
	User, Host, Port, Path string

	Command             string `option:"command" help:"specify command to create sftp connection"`
	Args                string `option:"args" help:"specify arguments for ssh"`
	ServerAliveInterval int    `option:"server-alive-interval" help:"set ServerAliveInterval for ssh (-1 leaves the ssh default)"`
	ServerAliveCountMax int    `option:"server-alive-count-max" help:"set ServerAliveCountMax for ssh (-1 leaves the ssh default)"`

	Connections uint `option:"connections" help:"set a limit for the number of concurrent connections (default: 5)"`
}

// NewConfig returns a new config with default options applied.
func NewConfig() Config {
	return Config{
		Connections:         5,
		ServerAliveInterval: -1,
		ServerAliveCountMax: -1,
	}
}

func init() {
	options.Register("sftp", Config{})
}

// ParseConfig parses the string s and extracts the sftp config. The
// supported format is sftp://user@host[:port]/directory, the directory is
// always absolute on the server.
func ParseConfig(s string) (*Config, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if u.Scheme != "sftp" {
		return nil, errors.New(`invalid format, does not start with "sftp://"`)
	}

	if u.Hostname() == "" {
		return nil, errors.Errorf("invalid sftp location %q, no host specified", s)
	}

	if u.Path == "" || u.Path == "/" {
		return nil, errors.Errorf("invalid sftp location %q, no directory specified", s)
	}

	cfg := NewConfig()
	if u.User != nil {
		cfg.User = u.User.Username()
	}
	cfg.Host = u.Hostname()
	cfg.Port = u.Port()
	cfg.Path = path.Clean(u.Path)

	return &cfg, nil
}

// StripPassword removes a password that was given as part of the URL.
func StripPassword(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}

	if _, set := u.User.Password(); !set {
		return s
	}

	u.User = url.UserPassword(u.User.Username(), "***")
	return u.String()
}
