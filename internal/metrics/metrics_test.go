package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, httpRequestsTotal)
	require.NotNil(t, sessionsInUse)
}

func TestDomainCollectors(t *testing.T) {
	before := testutil.ToFloat64(archiveWritesTotal.WithLabelValues("error"))
	ObserveArchiveWrite(false)
	require.Equal(t, before+1, testutil.ToFloat64(archiveWritesTotal.WithLabelValues("error")))

	IncSessionsInUse()
	gauge := testutil.ToFloat64(sessionsInUse)
	DecSessionsInUse()
	require.Equal(t, gauge-1, testutil.ToFloat64(sessionsInUse))

	ObserveLandingFetch("https://Shop.example.com/x", 204)
	require.Equal(t, 1.0, testutil.ToFloat64(landingFetchesTotal.WithLabelValues("shop.example.com", "2xx")))

	ObserveNavigation("chromedp", "timeout")
	require.GreaterOrEqual(t, testutil.ToFloat64(navigationsTotal.WithLabelValues("chromedp", "timeout")), 1.0)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://www.facebook.com/ads/library", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, s string) {
		if SanitizeSite(s) == "" {
			t.Errorf("SanitizeSite(%q) returned empty string", s)
		}
	})
}
