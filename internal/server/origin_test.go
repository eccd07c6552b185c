package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestOriginPolicy checks the allowlist against a table of Origin headers.
func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"HTTP://LocalHost:8080", " https://chat.example.com ", "not-a-url", ""}, discardLogger())

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "missing header", origin: "", want: true},
		{name: "exact match", origin: "http://localhost:8080", want: true},
		{name: "case insensitive", origin: "https://CHAT.example.com", want: true},
		{name: "path ignored", origin: "https://chat.example.com/room", want: true},
		{name: "other host", origin: "https://evil.example.com", want: false},
		{name: "other scheme", origin: "https://localhost:8080", want: false},
		{name: "other port", origin: "http://localhost:9090", want: false},
		{name: "malformed", origin: "not-a-url", want: false},
		{name: "scheme only", origin: "http://", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.checkOrigin(req))
		})
	}
}

// TestOriginPolicyWildcard verifies "*" allows any origin.
func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, discardLogger())

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://anywhere.example")

	assert.True(t, policy.allows(req))
	assert.Equal(t, []string{"*"}, policy.corsOrigins())
}

// TestOriginPolicyEmptyRejectsBrowsers verifies an empty allowlist rejects browser origins.
func TestOriginPolicyEmptyRejectsBrowsers(t *testing.T) {
	policy := newOriginPolicy(nil, discardLogger())

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://localhost:8080")

	assert.False(t, policy.allows(req))
	assert.Empty(t, policy.corsOrigins())
}

// TestNormalizeOrigin lowercases scheme and host and drops the path.
func TestNormalizeOrigin(t *testing.T) {
	got, ok := normalizeOrigin("HTTPS://Example.COM:443/path?q=1")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com:443", got)

	_, ok = normalizeOrigin("example.com")
	assert.False(t, ok)
}
