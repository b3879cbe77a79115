// Package identity extracts workspace identity from an inbound gateway
// request. Extraction is pure: strategies read the request and session and
// never mutate either.
package identity

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Headers set by the trusted upstream proxy.
const (
	HeaderAccessToken       = "X-Forwarded-Access-Token"
	HeaderPreferredUsername = "X-Forwarded-Preferred-Username"
	HeaderWorkspaceID       = "X-Workspace-Id"
	HeaderOriginalURI       = "X-Original-URI"
)

// Request parameters read by the controller.
const (
	ParamWorkspaceClientID = "workspace_client_id"
	ParamWorkspaceID       = "workspace_id"
	ParamCode              = "code"
	ParamState             = "state"
	ParamIDToken           = "id_token"
	ParamAccessToken       = "access_token"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Request is the transport-neutral view of an inbound request.
type Request struct {
	Path      string
	Params    url.Values
	Header    http.Header
	SessionID string
}

// FromHTTP builds a Request from r. Query and form parameters are merged
// the way http.Request.Form merges them.
func FromHTTP(r *http.Request, sessionID string) *Request {
	params := url.Values{}
	if err := r.ParseForm(); err == nil {
		params = r.Form
	} else if r.URL != nil {
		params = r.URL.Query()
	}

	path := ""
	if r.URL != nil {
		path = r.URL.Path
	}

	return &Request{
		Path:      path,
		Params:    params,
		Header:    r.Header,
		SessionID: sessionID,
	}
}

// Param returns the trimmed value of the named parameter.
func (r *Request) Param(name string) string {
	if r == nil || r.Params == nil {
		return ""
	}
	return strings.TrimSpace(r.Params.Get(name))
}

// HeaderValue returns the trimmed value of the named header.
func (r *Request) HeaderValue(name string) string {
	if r == nil || r.Header == nil {
		return ""
	}
	return strings.TrimSpace(r.Header.Get(name))
}

// IsUUID reports whether s has the canonical 8-4-4-4-12 hex shape.
func IsUUID(s string) bool {
	return uuidPattern.MatchString(s)
}

// ExtractWorkspaceID returns the workspace id embedded in path. A
// UUID-shaped segment following "workspace" wins, first in the path
// (/guacamole/workspace/{id}/client) and then in a client-side fragment
// (/guacamole/#/client/workspace/{id}). Otherwise a UUID-shaped segment
// directly under "guacamole" is used (/guacamole/{id}/...). Query strings
// are ignored.
func ExtractWorkspaceID(path string) (string, bool) {
	base, fragment, _ := strings.Cut(path, "#")
	base = stripQuery(base)
	fragment = stripQuery(fragment)

	if id, ok := segmentAfter(base, "workspace"); ok {
		return id, true
	}
	if id, ok := segmentAfter(fragment, "workspace"); ok {
		return id, true
	}
	return segmentAfter(base, "guacamole")
}

// segmentAfter returns the first UUID-shaped segment that directly follows
// a segment equal to name.
func segmentAfter(path, name string) (string, bool) {
	segments := strings.Split(path, "/")
	for i := 0; i+1 < len(segments); i++ {
		if segments[i] == name && IsUUID(segments[i+1]) {
			return segments[i+1], true
		}
	}
	return "", false
}

func stripQuery(s string) string {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i]
	}
	return s
}
