// Package reposync remote locator parsing.
// This file contains parsing and normalization of SSH remote URLs.
package reposync

import (
	"net/url"
	"strconv"
	"strings"
)

// DefaultSSHPort is the port assumed when a remote locator omits one.
const DefaultSSHPort = 22

// RemoteURL is a parsed and validated SSH remote locator.
// Two surface forms are accepted:
//
//	ssh://user@host[:port]/path
//	user@host:path
//
// Path is stored without its leading slash; Normalized always renders the
// canonical ssh://user@host:port/path form.
type RemoteURL struct {
	Original string
	User     string
	Host     string
	Port     int
	Path     string
}

// Normalized returns the canonical form of the locator. Parsing a
// normalized locator and normalizing it again is idempotent.
func (u *RemoteURL) Normalized() string {
	return "ssh://" + u.User + "@" + u.Host + ":" + strconv.Itoa(u.Port) + "/" + u.Path
}

// ParseRemoteURL parses a user-supplied remote locator. It is pure and
// side-effect free. Returns ErrInvalidRemoteURL when user, host, or path
// cannot all be extracted non-empty, and ErrUnsupportedRemoteScheme when
// the string matches neither accepted surface form.
func ParseRemoteURL(raw string) (*RemoteURL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, WrapError(ErrInvalidRemoteURL, "empty remote locator")
	}

	if strings.HasPrefix(trimmed, "ssh://") {
		return parseSSHForm(raw, trimmed)
	}

	// Any other explicit scheme (https://, git://, ftp://...) is not ours.
	if strings.Contains(trimmed, "://") {
		scheme := trimmed[:strings.Index(trimmed, "://")]
		return nil, WrapErrorf(ErrUnsupportedRemoteScheme, "scheme %q", scheme)
	}

	if strings.Contains(trimmed, "@") {
		return parseSCPForm(raw, trimmed)
	}

	return nil, WrapError(ErrUnsupportedRemoteScheme, "expected ssh:// URL or user@host:path shorthand")
}

// parseSSHForm handles ssh://user@host[:port]/path.
func parseSSHForm(original, trimmed string) (*RemoteURL, error) {
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, WrapErrorf(ErrInvalidRemoteURL, "malformed ssh URL %q", trimmed)
	}

	if parsed.User == nil || parsed.User.Username() == "" {
		return nil, WrapError(ErrInvalidRemoteURL, "missing user")
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, WrapError(ErrInvalidRemoteURL, "missing host")
	}

	port := DefaultSSHPort
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return nil, WrapErrorf(ErrInvalidRemoteURL, "invalid port %q", p)
		}
	}

	path := strings.TrimPrefix(parsed.Path, "/")
	if path == "" {
		return nil, WrapError(ErrInvalidRemoteURL, "missing repository path")
	}

	return &RemoteURL{
		Original: original,
		User:     parsed.User.Username(),
		Host:     host,
		Port:     port,
		Path:     path,
	}, nil
}

// parseSCPForm handles the user@host:path shorthand (port implied 22).
func parseSCPForm(original, trimmed string) (*RemoteURL, error) {
	at := strings.Index(trimmed, "@")
	user := trimmed[:at]
	rest := trimmed[at+1:]

	colon := strings.Index(rest, ":")
	if colon < 0 {
		return nil, WrapError(ErrInvalidRemoteURL, "shorthand form requires host:path")
	}

	host := rest[:colon]
	path := rest[colon+1:]

	if user == "" {
		return nil, WrapError(ErrInvalidRemoteURL, "missing user")
	}
	if host == "" {
		return nil, WrapError(ErrInvalidRemoteURL, "missing host")
	}
	if path == "" {
		return nil, WrapError(ErrInvalidRemoteURL, "missing repository path")
	}

	return &RemoteURL{
		Original: original,
		User:     user,
		Host:     host,
		Port:     DefaultSSHPort,
		Path:     path,
	}, nil
}
