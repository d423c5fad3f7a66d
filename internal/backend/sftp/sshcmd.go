package sftp

import (
	"strconv"
	"unicode"

	"github.com/restic/snaprepo/internal/errors"
)

// shellSplitter splits a command string into separate arguments. It supports
// single and double quoted strings.
type shellSplitter struct {
	quote    rune
	lastChar rune
}

func (s *shellSplitter) isSplitChar(c rune) bool {
	// only test for quotes if the last char was not a backslash
	if s.lastChar != '\\' {
		if s.quote != 0 && c == s.quote {
			s.quote = 0
			return true
		}
		if s.quote == 0 && (c == '"' || c == '\'') {
			s.quote = c
			return true
		}
	}

	s.lastChar = c

	if s.quote != 0 {
		return false
	}

	return c == '\\' || unicode.IsSpace(c)
}

// splitShellStrings returns the list of shell strings from a shell command string.
func splitShellStrings(data string) (strs []string, err error) {
	s := &shellSplitter{}

	fieldStart := -1
	for i, r := range data {
		if s.isSplitChar(r) {
			if fieldStart >= 0 {
				strs = append(strs, data[fieldStart:i])
				fieldStart = -1
			}
		} else if fieldStart == -1 {
			fieldStart = i
		}
	}
	if fieldStart >= 0 {
		strs = append(strs, data[fieldStart:])
	}

	switch s.quote {
	case '\'':
		return nil, errors.New("single-quoted string not terminated")
	case '"':
		return nil, errors.New("double-quoted string not terminated")
	}

	if len(strs) == 0 {
		return nil, errors.New("command string is empty")
	}

	return strs, nil
}

// splitShellArgs returns the command and arguments from a shell command string.
func splitShellArgs(data string) (cmd string, args []string, err error) {
	strs, err := splitShellStrings(data)
	if err != nil {
		return "", nil, err
	}

	return strs[0], strs[1:], nil
}

func buildSSHCommand(cfg Config) (cmd string, args []string, err error) {
	if cfg.Command != "" {
		if cfg.Args != "" {
			return "", nil, errors.New("cannot specify both sftp.command and sftp.args options")
		}

		return splitShellArgs(cfg.Command)
	}

	cmd = "ssh"

	args = []string{cfg.Host}
	if cfg.Port != "" {
		args = append(args, "-p", cfg.Port)
	}
	if cfg.User != "" {
		args = append(args, "-l", cfg.User)
	}

	if cfg.ServerAliveInterval >= 0 {
		args = append(args, "-o", "ServerAliveInterval="+strconv.Itoa(cfg.ServerAliveInterval))
	}

	if cfg.ServerAliveCountMax == 0 {
		return "", nil, errors.New("sftp.server-alive-count-max cannot be 0")
	} else if cfg.ServerAliveCountMax > 0 {
		args = append(args, "-o", "ServerAliveCountMax="+strconv.Itoa(cfg.ServerAliveCountMax))
	}

	if cfg.Args != "" {
		a, err := splitShellStrings(cfg.Args)
		if err != nil {
			return "", nil, err
		}

		args = append(args, a...)
	}

	args = append(args, "-s", "sftp")
	return cmd, args, nil
}
