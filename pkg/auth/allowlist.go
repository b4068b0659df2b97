package auth

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
)

// testSentinel is the synthetic peer address HTTP test clients report.
// Accepted only when the allow list runs in the test profile.
const testSentinel = "testclient"

// AllowList checks peer addresses against configured addresses and CIDR
// blocks. Immutable after construction.
type AllowList struct {
	prefixes    []netip.Prefix
	testProfile bool
}

// NewAllowList parses a list of addresses and CIDR blocks. Bare addresses
// become single-host prefixes.
func NewAllowList(entries []string, testProfile bool) (*AllowList, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid allow-list entry %q: %w", entry, err)
			}
			prefixes = append(prefixes, p)
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid allow-list entry %q: %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return &AllowList{prefixes: prefixes, testProfile: testProfile}, nil
}

// Permits reports whether the peer address is allowed.
func (l *AllowList) Permits(peer string) bool {
	if l.testProfile && (peer == testSentinel || peer == "unknown") {
		return true
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		logger.Warnf("Unparseable peer address %q", peer)
		return false
	}
	addr = addr.Unmap()
	for _, p := range l.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP extracts the peer address of a request. The forwarding header is
// honoured only when the listener is declared to sit behind a trusted proxy;
// otherwise it is attacker-controlled and ignored.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
