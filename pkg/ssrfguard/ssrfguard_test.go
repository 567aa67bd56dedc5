package ssrfguard_test

import (
	"context"
	"net"
	"testing"

	"github.com/archiveforge/docscrawler/pkg/ssrfguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedResolver struct {
	addrs []net.IPAddr
	err   error
}

func (f fixedResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return f.addrs, f.err
}

func TestCheck_IPLiteral(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected bool
	}{
		{"loopback rejected", "127.0.0.1", false},
		{"link-local rejected", "169.254.1.1", false},
		{"private 10/8 rejected", "10.0.0.5", false},
		{"private 192.168 rejected", "192.168.1.1", false},
		{"multicast rejected", "224.0.0.1", false},
		{"unspecified rejected", "0.0.0.0", false},
		{"public IP allowed", "93.184.216.34", true},
		{"ipv6 loopback rejected", "::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := ssrfguard.Check(context.Background(), fixedResolver{}, tt.host)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestCheck_ResolvedHost(t *testing.T) {
	resolver := fixedResolver{addrs: []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}}
	ok, err := ssrfguard.Check(context.Background(), resolver, "example.test")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheck_ResolvedHostWithPrivateAddress(t *testing.T) {
	resolver := fixedResolver{addrs: []net.IPAddr{{IP: net.ParseIP("10.0.0.1")}}}
	ok, err := ssrfguard.Check(context.Background(), resolver, "internal.test")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheck_MixedAddressesAnyPrivateFails(t *testing.T) {
	resolver := fixedResolver{addrs: []net.IPAddr{
		{IP: net.ParseIP("93.184.216.34")},
		{IP: net.ParseIP("127.0.0.1")},
	}}
	ok, err := ssrfguard.Check(context.Background(), resolver, "mixed.test")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheck_NoAddressesIsUnsafe(t *testing.T) {
	resolver := fixedResolver{addrs: nil}
	ok, err := ssrfguard.Check(context.Background(), resolver, "empty.test")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheck_ResolveError(t *testing.T) {
	resolver := fixedResolver{err: assertErr{}}
	_, err := ssrfguard.Check(context.Background(), resolver, "broken.test")
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "resolve failed" }
