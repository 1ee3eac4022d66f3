package apiconfig

import (
	"net/url"
	"slices"
	"strings"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
)

// SecurityPolicy constrains which base URLs a Resolver accepts.
type SecurityPolicy struct {
	RequireHTTPS bool

	// AllowedBaseHosts restricts base URL hosts. Empty means any host.
	AllowedBaseHosts []string
}

// DefaultSecurityPolicy requires HTTPS and allows every host.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{RequireHTTPS: true}
}

// Check applies the policy to a parsed base URL.
func (p SecurityPolicy) Check(base *url.URL) error {
	if p.RequireHTTPS && !strings.EqualFold(base.Scheme, "https") {
		return apierr.Configuration("Security Violation: Non-HTTPS base URL is not allowed")
	}
	if len(p.AllowedBaseHosts) > 0 {
		host := base.Hostname()
		allowed := slices.ContainsFunc(p.AllowedBaseHosts, func(h string) bool {
			return strings.EqualFold(h, host)
		})
		if !allowed {
			return apierr.Configuration("Security Violation: Base URL host not allowed")
		}
	}
	return nil
}

func (p SecurityPolicy) clone() SecurityPolicy {
	p.AllowedBaseHosts = slices.Clone(p.AllowedBaseHosts)
	return p
}

// headerBlacklist lists headers the transport owns. Keys are lower case.
var headerBlacklist = map[string]struct{}{
	"host":            {},
	"content-length":  {},
	"accept-encoding": {},
	"connection":      {},
	"upgrade":         {},
}

// IsBlacklistedHeader reports whether name may not be set from configuration.
func IsBlacklistedHeader(name string) bool {
	_, ok := headerBlacklist[strings.ToLower(name)]
	return ok
}
