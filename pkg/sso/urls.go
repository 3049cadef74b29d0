package sso

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidReturnURL is returned for return URLs that could redirect off-site
var ErrInvalidReturnURL = errors.New("invalid return URL")

// ReturnURL is a validated post-login redirect target
type ReturnURL struct {
	u *url.URL
}

// ParseReturnURL accepts a relative path or an absolute http(s) URL whose host
// is in allowedHosts. An empty raw value yields "/".
func ParseReturnURL(raw string, allowedHosts []string) (ReturnURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ReturnURL{u: &url.URL{Path: "/"}}, nil
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f || r == '\\' {
			return ReturnURL{}, ErrInvalidReturnURL
		}
	}
	if strings.HasPrefix(raw, "//") {
		return ReturnURL{}, ErrInvalidReturnURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ReturnURL{}, ErrInvalidReturnURL
	}

	if !u.IsAbs() {
		if u.Host != "" || u.User != nil || !strings.HasPrefix(u.Path, "/") {
			return ReturnURL{}, ErrInvalidReturnURL
		}
		return ReturnURL{u: u}, nil
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return ReturnURL{}, ErrInvalidReturnURL
	}
	if u.User != nil || !hostAllowed(u.Hostname(), allowedHosts) {
		return ReturnURL{}, ErrInvalidReturnURL
	}
	return ReturnURL{u: u}, nil
}

// LegacyReturnURL joins the legacy redirectBase and redirectTo pair into one raw URL
func LegacyReturnURL(redirectBase, redirectTo string) string {
	redirectBase = strings.TrimSpace(redirectBase)
	redirectTo = strings.TrimSpace(redirectTo)
	switch {
	case redirectBase == "":
		return redirectTo
	case redirectTo == "":
		return redirectBase
	}
	return strings.TrimSuffix(redirectBase, "/") + "/" + strings.TrimPrefix(redirectTo, "/")
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, h := range allowed {
		if strings.ToLower(strings.TrimSpace(h)) == host {
			return true
		}
	}
	return false
}

// String returns the encoded URL
func (r ReturnURL) String() string {
	if r.u == nil {
		return "/"
	}
	return r.u.String()
}

// IsZero reports whether r was never parsed
func (r ReturnURL) IsZero() bool {
	return r.u == nil
}

// WithToken returns the URL with token added as a query parameter
func (r ReturnURL) WithToken(token string) string {
	u := url.URL{Path: "/"}
	if r.u != nil {
		u = *r.u
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// CallbackURL is the provider redirect target for one tenant and provider
type CallbackURL struct {
	base      string
	provider  ProviderType
	orgID     string
	returnURL ReturnURL
}

// NewCallbackURL builds a callback URL under base, the service's public origin
func NewCallbackURL(base string, provider ProviderType, orgID string, returnURL ReturnURL) CallbackURL {
	return CallbackURL{
		base:      strings.TrimSuffix(base, "/"),
		provider:  provider,
		orgID:     orgID,
		returnURL: returnURL,
	}
}

// String renders {base}/api/auth/{provider}/{orgId}/callback?returnUrl=...
func (c CallbackURL) String() string {
	path := "/api/auth/" + url.PathEscape(string(c.provider)) + "/" + url.PathEscape(c.orgID) + "/callback"
	q := url.Values{}
	q.Set("returnUrl", c.returnURL.String())
	return c.base + path + "?" + q.Encode()
}
