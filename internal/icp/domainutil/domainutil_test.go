package domainutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"  Example.COM  ", "example.com"},
		{"https://example.com", "example.com"},
		{"http://example.com:8080/path/to/page", "example.com"},
		{"ftp://Files.Example.com/download", "files.example.com"},
		{"example.com/a/b?c=d", "example.com"},
		{"example.com:443", "example.com"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, in := range []string{"https://WWW.Example.com:443/x", "a.b.gov.cn", "example.co.uk/path"} {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once))
	}
}

func TestIsValidDomainOrIP(t *testing.T) {
	valid := []string{
		"192.168.1.1",
		"::1",
		"2001:db8::68",
		"my-site.example.com",
		"example.com",
		"a1.b2.c3.example.co.uk",
		"123.example.com",
	}
	for _, s := range valid {
		assert.True(t, IsValidDomainOrIP(s), "expected valid: %q", s)
	}

	invalid := []string{
		"999",
		"1.2.3",  // all numeric, not an IP
		"10.0.0", // looks like a version number
		"nodots",
		"-bad.example.com",
		"bad-.example.com",
		"exa_mple.com",
		"a..b",
		"",
		"   ",
	}
	for _, s := range invalid {
		assert.False(t, IsValidDomainOrIP(s), "expected invalid: %q", s)
	}
}

func TestRootDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"a.b.example.co.uk", "example.co.uk"},
		{"example.com", "example.com"},
		{"www.baidu.com", "baidu.com"},
		{"a.b.c.baidu.com", "baidu.com"},
		{"https://WWW.Baidu.com/path", "baidu.com"},
		{"a.gz.gov.cn", "gz.gov.cn"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RootDomain(tc.in), "input %q", tc.in)
	}
}

func TestIsGovDomain(t *testing.T) {
	assert.True(t, IsGovDomain("gz.gov.cn"))
	assert.True(t, IsGovDomain("a.b.gz.gov.cn"))
	assert.True(t, IsGovDomain("gov.cn"))
	assert.True(t, IsGovDomain("  GZ.GOV.CN  "))
	assert.False(t, IsGovDomain("example.com"))
	assert.False(t, IsGovDomain("gov.cn.example.com"))
	assert.False(t, IsGovDomain("mygov.cn"))
}

func TestHierarchy(t *testing.T) {
	assert.Equal(t,
		[]string{"a.b.c.gz.gov.cn", "b.c.gz.gov.cn", "c.gz.gov.cn", "gz.gov.cn"},
		Hierarchy("a.b.c.gz.gov.cn"))

	assert.Equal(t, []string{"gz.gov.cn"}, Hierarchy("gz.gov.cn"))
	assert.Equal(t, []string{"example.com"}, Hierarchy("example.com"))
	assert.Equal(t, []string{"www.example.com"}, Hierarchy("www.example.com"))

	// Scheme and path are stripped before walking.
	assert.Equal(t,
		[]string{"a.gz.gov.cn", "gz.gov.cn"},
		Hierarchy("https://a.gz.gov.cn/index.html"))
}

func TestIsDomainMatch(t *testing.T) {
	assert.True(t, IsDomainMatch("www.baidu.com", "baidu.com"))
	assert.True(t, IsDomainMatch("baidu.com", "www.baidu.com"))
	assert.True(t, IsDomainMatch("HTTPS://sub.example.co.uk", "example.co.uk"))
	assert.False(t, IsDomainMatch("other.com", "baidu.com"))
	assert.False(t, IsDomainMatch("", "baidu.com"))
	assert.False(t, IsDomainMatch("baidu.com", ""))
}
