package server

import (
	"net/url"
	"strings"
)

// RedirectParam is one query parameter of a redirect instruction
type RedirectParam struct {
	Name  string
	Value string
}

// CodeIssueResult is the outcome of an authorization request: where to send the user
// agent and which parameters to append, in order.
type CodeIssueResult struct {
	RedirectURI string
	Code        string
	State       string
	Params      []RedirectParam
}

// RedirectURL returns the redirect target with the code and state appended
func (r *CodeIssueResult) RedirectURL() string {
	return BuildRedirectURL(r.RedirectURI, r.Params)
}

// BuildRedirectURL appends params to uri in order, using "?" when uri has no query yet
// and "&" otherwise. Names and values are percent-encoded; an existing query and any
// fragment are left untouched apart from the fragment moving after the new parameters.
func BuildRedirectURL(uri string, params []RedirectParam) string {
	if len(params) == 0 {
		return uri
	}

	base, fragment, hasFragment := strings.Cut(uri, "#")

	var b strings.Builder
	b.WriteString(base)

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
		if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
			sep = ""
		}
	}

	for _, p := range params {
		b.WriteString(sep)
		b.WriteString(url.QueryEscape(p.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
		sep = "&"
	}

	if hasFragment {
		b.WriteByte('#')
		b.WriteString(fragment)
	}
	return b.String()
}
