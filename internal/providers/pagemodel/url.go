package pagemodel

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildURL joins domain and path into an absolute URL. Domains without a
// scheme get https. params are added first, then extraParams, a raw query
// string that may start with "?" or "&".
func BuildURL(domain, path string, params url.Values, extraParams string) (string, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", fmt.Errorf("domain is required to build a test URL")
	}
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	u, err := url.Parse(domain)
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", domain, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid domain %q: no host", domain)
	}
	if path != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	}

	query := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	extra, err := url.ParseQuery(strings.TrimLeft(extraParams, "?&"))
	if err != nil {
		return "", fmt.Errorf("invalid extra parameters %q: %w", extraParams, err)
	}
	for k, vs := range extra {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
