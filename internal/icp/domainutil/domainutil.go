// Package domainutil holds the pure domain-name helpers the lookup flows
// depend on: normalization, validation, registrable-root extraction via the
// public suffix list, and the government-domain hierarchy used to resolve
// multi-level .gov.cn queries.
package domainutil

import (
	"net"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

const (
	govSuffix    = ".gov.cn"
	govApex      = "gov.cn"
	maxDomainLen = 253
	maxLabelLen  = 63
)

var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// Normalize reduces raw user input to a bare lower-case host: whitespace,
// scheme, port, and path are stripped. Idempotent.
func Normalize(raw string) string {
	if raw == "" {
		return raw
	}
	domain := strings.TrimSpace(raw)
	domain = schemeRe.ReplaceAllString(domain, "")
	if i := strings.IndexByte(domain, ':'); i >= 0 {
		domain = domain[:i]
	}
	if i := strings.IndexByte(domain, '/'); i >= 0 {
		domain = domain[:i]
	}
	return strings.ToLower(domain)
}

// IsValidDomainOrIP reports whether s parses as an IPv4/IPv6 literal or
// matches domain-label grammar. All-numeric dotted strings (version numbers,
// "999") are rejected: a domain must contain at least one letter.
func IsValidDomainOrIP(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if net.ParseIP(s) != nil {
		return true
	}
	return isValidDomain(s)
}

func isValidDomain(s string) bool {
	if len(s) > maxDomainLen || !strings.Contains(s, ".") {
		return false
	}
	hasAlpha := false
	for _, label := range strings.Split(s, ".") {
		if label == "" || len(label) > maxLabelLen {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
				hasAlpha = true
			case c >= '0' && c <= '9', c == '-':
			default:
				return false
			}
		}
	}
	return hasAlpha
}

// RootDomain returns the registrable domain under the public suffix list
// (a.b.example.co.uk -> example.co.uk). When the suffix lookup fails it falls
// back to the last two labels; that degradation is deliberate best effort,
// not an error.
func RootDomain(domain string) string {
	if domain == "" {
		return domain
	}
	normalized := Normalize(domain)
	if root, err := publicsuffix.EffectiveTLDPlusOne(normalized); err == nil {
		return root
	}
	parts := strings.Split(normalized, ".")
	if len(parts) <= 2 {
		return normalized
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// IsGovDomain reports whether domain sits under the government zone.
func IsGovDomain(domain string) bool {
	normalized := strings.ToLower(strings.TrimSpace(domain))
	return normalized == govApex || strings.HasSuffix(normalized, govSuffix)
}

// Hierarchy returns the ordered chain of domains to try when resolving a
// query, most specific first. Non-government domains resolve at a single
// level. Government domains walk up one label at a time, keeping only
// suffixes that still end in .gov.cn:
//
//	a.b.c.gz.gov.cn -> [a.b.c.gz.gov.cn b.c.gz.gov.cn c.gz.gov.cn gz.gov.cn]
func Hierarchy(domain string) []string {
	normalized := Normalize(domain)
	if !IsGovDomain(normalized) {
		return []string{normalized}
	}
	parts := strings.Split(normalized, ".")
	hierarchy := []string{normalized}
	for i := 1; i < len(parts); i++ {
		suffix := strings.Join(parts[i:], ".")
		if strings.HasSuffix(suffix, govSuffix) {
			hierarchy = append(hierarchy, suffix)
		}
	}
	return hierarchy
}

// IsDomainMatch reports whether a provider-returned domain belongs to the
// queried root domain. Provider domain search returns loosely related hits;
// accepting only root-domain equality keeps unrelated companies' records from
// contaminating one query.
func IsDomainMatch(returnedDomain, queryRootDomain string) bool {
	if returnedDomain == "" || queryRootDomain == "" {
		return false
	}
	return RootDomain(Normalize(returnedDomain)) == RootDomain(Normalize(queryRootDomain))
}
