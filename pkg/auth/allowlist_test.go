package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowList_Permits(t *testing.T) {
	t.Parallel()

	l, err := NewAllowList([]string{"127.0.0.1", "::1", "10.0.0.0/8"}, false)
	require.NoError(t, err)

	tests := []struct {
		peer string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"::ffff:10.1.2.3", true}, // v4-mapped form of an allowed address
		{"10.255.255.255", true},
		{"11.0.0.1", false},
		{"192.168.1.5", false},
		{"testclient", false},
		{"not-an-address", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.Permits(tt.peer), "peer %q", tt.peer)
	}
}

func TestAllowList_TestProfileSentinel(t *testing.T) {
	t.Parallel()

	l, err := NewAllowList([]string{"127.0.0.1"}, true)
	require.NoError(t, err)

	assert.True(t, l.Permits("testclient"))
	assert.True(t, l.Permits("unknown"))
	assert.False(t, l.Permits("192.168.1.5"), "test profile widens only the sentinels")
}

func TestAllowList_RejectsBadEntries(t *testing.T) {
	t.Parallel()

	_, err := NewAllowList([]string{"10.0.0.0/40"}, false)
	assert.Error(t, err)

	_, err = NewAllowList([]string{"localhost"}, false)
	assert.Error(t, err)

	// Blank entries from sloppy comma-separated config are tolerated.
	l, err := NewAllowList([]string{"127.0.0.1", "", " "}, false)
	require.NoError(t, err)
	assert.True(t, l.Permits("127.0.0.1"))
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("POST", "/mcp", nil)
	r.RemoteAddr = "192.0.2.7:4411"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 198.51.100.2")

	assert.Equal(t, "192.0.2.7", ClientIP(r, false),
		"forwarding header from an untrusted peer is ignored")
	assert.Equal(t, "203.0.113.9", ClientIP(r, true),
		"behind a trusted proxy the first forwarded hop is the client")

	direct := httptest.NewRequest("POST", "/mcp", nil)
	direct.RemoteAddr = "192.0.2.7:4411"
	assert.Equal(t, "192.0.2.7", ClientIP(direct, true))
}
