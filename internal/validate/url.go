package validate

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URL validation errors
var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrDisallowedScheme = errors.New("URL scheme not allowed")
	ErrPrivateHost      = errors.New("URL host is private or local")
)

// URLConstraints bounds what an accepted URL may look like.
type URLConstraints struct {
	AllowedSchemes []string
	BlockPrivate   bool // reject hosts that resolve to loopback, link-local or RFC 1918 space
	MaxLength      int  // 0 means no limit
}

// BaseURLConstraints applies to the public base URL in production: https
// only, and the host must not resolve to private address space. The hosted
// widget hands this URL to the buyer's browser, so a private host would
// strand the redirect.
var BaseURLConstraints = URLConstraints{
	AllowedSchemes: []string{"https"},
	BlockPrivate:   true,
	MaxLength:      2048,
}

// LocalBaseURLConstraints admits plain http and local hosts so a
// development server reachable at http://localhost still passes.
var LocalBaseURLConstraints = URLConstraints{
	AllowedSchemes: []string{"https", "http"},
	BlockPrivate:   false,
	MaxLength:      2048,
}

// PublicBaseURL validates the externally reachable origin that checkout
// confirmation redirects are built from, under production rules.
func PublicBaseURL(raw string) (string, error) {
	return URL(raw, BaseURLConstraints)
}

// LocalBaseURL validates the same origin under development rules.
func LocalBaseURL(raw string) (string, error) {
	return URL(raw, LocalBaseURLConstraints)
}

// URL validates raw against the given constraints and returns it trimmed.
func URL(raw string, constraints URLConstraints) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmpty
	}
	if constraints.MaxLength > 0 && len(raw) > constraints.MaxLength {
		return "", fmt.Errorf("%w: URL exceeds %d characters", ErrStringTooLong, constraints.MaxLength)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if len(constraints.AllowedSchemes) > 0 {
		allowed := false
		for _, scheme := range constraints.AllowedSchemes {
			if parsed.Scheme == scheme {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", fmt.Errorf("%w: got %q, allowed: %v", ErrDisallowedScheme, parsed.Scheme, constraints.AllowedSchemes)
		}
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}

	if constraints.BlockPrivate {
		if err := checkPrivateHost(hostname); err != nil {
			return "", err
		}
	}

	return raw, nil
}

// checkPrivateHost rejects hostnames that name or resolve to
// non-routable address space.
func checkPrivateHost(hostname string) error {
	lower := strings.ToLower(hostname)
	if lower == "localhost" || lower == "localhost.localdomain" {
		return fmt.Errorf("%w: localhost not allowed", ErrPrivateHost)
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable is not the same as private. A transient DNS failure
		// must not reject a legitimate public host.
		return nil
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("%w: resolves to %s", ErrPrivateHost, ip.String())
		}
	}

	return nil
}

// isPrivateIP reports whether ip is loopback, link-local, RFC 1918
// IPv4 space or unique-local IPv6 space.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 10:
			return true
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
			return true
		case ip4[0] == 192 && ip4[1] == 168:
			return true
		case ip4[0] == 169 && ip4[1] == 254:
			return true
		}
		return false
	}

	// fc00::/7
	return len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc
}
