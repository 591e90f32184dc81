package uri_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuplestream/collector/internal/uri"
)

func TestParseScenarios(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		scheme  string
		host    string
		service string
	}{
		{"bracketed ipv6 with scheme and service", "tcp:[::1]:5001", "tcp", "::1", "5001"},
		{"file with no service", "file:/tmp/out", "file", "/tmp/out", ""},
		{"bare host with service, no scheme", "example.com:4242", "", "example.com", "4242"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := uri.Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.scheme, d.Scheme)
			assert.Equal(t, tc.host, d.Host)
			assert.Equal(t, tc.service, d.Service)
		})
	}
}

func TestParseEmptyFails(t *testing.T) {
	_, err := uri.Parse("")
	require.ErrorIs(t, err, uri.ErrMalformed)
}

func TestParseFileRejectsTrailingService(t *testing.T) {
	_, err := uri.Parse("flush:/var/log/oml:9999")
	require.ErrorIs(t, err, uri.ErrMalformed)
}

func TestParseUnknownSchemeFallsBackToTCP(t *testing.T) {
	d, err := uri.Parse("sctp:host.example:1234")
	require.NoError(t, err)
	assert.Equal(t, "tcp", d.Scheme)
	assert.Equal(t, "host.example", d.Host)
	assert.Equal(t, "1234", d.Service)
}

func TestRoundTrip(t *testing.T) {
	cases := []uri.Destination{
		{Scheme: "tcp", Host: "::1", Service: "5001"},
		{Scheme: "tcp", Host: "example.com", Service: "4242"},
		{Scheme: "udp", Host: "10.0.0.1", Service: "9000"},
		{Scheme: "file", Host: "/tmp/out"},
		{Scheme: "flush", Host: "/var/log/oml"},
		{Host: "bare-host"},
		{Host: "example.com", Service: "4242"},
	}
	for _, d := range cases {
		t.Run(d.String(), func(t *testing.T) {
			got, err := uri.Parse(d.String())
			require.NoError(t, err)
			assert.Equal(t, d, got)
		})
	}
}

func TestResolveServiceFallsBackToNumeric(t *testing.T) {
	assert.Equal(t, 5001, uri.ResolveService("5001", -1))
}

func TestResolveServiceFallsBackToDefault(t *testing.T) {
	assert.Equal(t, 3003, uri.ResolveService("not-a-real-service-name", 3003))
}

func TestResolveServiceEmptyReturnsDefault(t *testing.T) {
	assert.Equal(t, 3003, uri.ResolveService("", 3003))
}
