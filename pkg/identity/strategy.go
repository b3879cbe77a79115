package identity

import (
	"strings"

	"github.com/jeremyhahn/go-workspace-auth/pkg/session"
)

// Input is what a Strategy may inspect.
type Input struct {
	Request *Request
	Session *session.AuthenticationSession
}

// Strategy extracts one value from an Input, reporting whether it found
// a non-empty one.
type Strategy func(in Input) (string, bool)

// FirstOf returns a Strategy that tries each strategy in order and returns
// the first value found.
func FirstOf(strategies ...Strategy) Strategy {
	return func(in Input) (string, bool) {
		for _, s := range strategies {
			if s == nil {
				continue
			}
			if v, ok := s(in); ok {
				return v, true
			}
		}
		return "", false
	}
}

// Param reads the named request parameter.
func Param(name string) Strategy {
	return func(in Input) (string, bool) {
		return present(in.Request.Param(name))
	}
}

// Header reads the named request header.
func Header(name string) Strategy {
	return func(in Input) (string, bool) {
		return present(in.Request.HeaderValue(name))
	}
}

// PathWorkspaceID extracts a workspace id from the request path.
func PathWorkspaceID() Strategy {
	return func(in Input) (string, bool) {
		if in.Request == nil {
			return "", false
		}
		return ExtractWorkspaceID(in.Request.Path)
	}
}

// HeaderPathWorkspaceID extracts a workspace id from a header carrying a
// URI, such as X-Original-URI.
func HeaderPathWorkspaceID(name string) Strategy {
	return func(in Input) (string, bool) {
		return ExtractWorkspaceID(in.Request.HeaderValue(name))
	}
}

// SessionValue reads a field of the persisted session.
func SessionValue(field func(*session.AuthenticationSession) string) Strategy {
	return func(in Input) (string, bool) {
		if in.Session == nil {
			return "", false
		}
		return present(field(in.Session))
	}
}

// Default always yields value, when it is non-empty.
func Default(value string) Strategy {
	return func(Input) (string, bool) {
		return present(value)
	}
}

func present(v string) (string, bool) {
	v = strings.TrimSpace(v)
	return v, v != ""
}
