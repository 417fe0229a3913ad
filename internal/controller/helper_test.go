package controller

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBrowser(t *testing.T) {
	tests := []struct {
		ua      string
		name    string
		version string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", "Chrome", "120.0.0.0"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91", "Edge", "120.0.2210.91"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "Firefox", "121.0"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15", "Safari", "17.2"},
		{"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 OPR/105.0.0.0", "Opera", "105.0.0.0"},
		{"curl/8.4.0", "curl", "8.4.0"},
		{"", "", ""},
	}

	for _, tt := range tests {
		name, version := parseBrowser(tt.ua)
		assert.Equal(t, tt.name, name, tt.ua)
		assert.Equal(t, tt.version, version, tt.ua)
	}
}

func TestGetUserId(t *testing.T) {
	c := controller{cfg: Config{Secret: "test-secret"}}

	a := httptest.NewRequest("GET", "/", nil)
	a.RemoteAddr = "203.0.113.7:5000"
	a.Header.Set("User-Agent", "Firefox/121.0")
	a.Header.Set("St-Fingerprint", "fp-1")

	b := httptest.NewRequest("GET", "/", nil)
	b.RemoteAddr = "203.0.113.7:6000"
	b.Header.Set("User-Agent", "Firefox/121.0")
	b.Header.Set("St-Fingerprint", "fp-1")

	id := c.getUserId(a)
	assert.Len(t, id, 32)
	assert.Equal(t, id, c.getUserId(b), "identity must not depend on the source port")

	b.Header.Set("St-User-Id", "explicit-id")
	assert.Equal(t, id, c.getUserId(b), "clients cannot pick their identity")

	other := controller{cfg: Config{Secret: "other-secret"}}
	assert.NotEqual(t, id, other.getUserId(a))

	b.Header.Set("St-Fingerprint", "fp-2")
	assert.NotEqual(t, id, c.getUserId(b))
}
