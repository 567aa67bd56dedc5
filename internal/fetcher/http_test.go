package fetcher_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/archiveforge/docscrawler/internal/fetcher"
	"github.com/archiveforge/docscrawler/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSink struct {
	metadata.NoopSink
	errors []string
}

func (s *stubSink) RecordError(_ time.Time, _, _ string, _ metadata.ErrorCause, msg string, _ []metadata.Attribute) {
	s.errors = append(s.errors, msg)
}

func mustURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return *u
}

func TestHTTPFetcher_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<html><head><title>T</title></head><body><p>hello world</p><a href="/b">b</a></body></html>`))
	}))
	defer server.Close()

	dir := t.TempDir()
	sink := &stubSink{}
	f := fetcher.NewHTTPFetcher(sink)

	target := filepath.Join(dir, "a.html")
	result, err := f.Fetch(t.Context(), fetcher.Request{
		URL:         mustURL(t, server.URL+"/a"),
		TargetPath:  target,
		AllowedBase: dir,
		Timeout:     5 * time.Second,
		MaxBodySize: 1 << 20,
		UserAgent:   "test-agent/1.0",
	})

	require.Nil(t, err)
	assert.Equal(t, fetcher.StatusSuccess, result.Status)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.NotEmpty(t, result.ContentHash)
	assert.Contains(t, result.DetectedLinks, server.URL+"/b")

	written, readErr := os.ReadFile(target)
	require.NoError(t, readErr)
	assert.NotEmpty(t, written)
}

func TestHTTPFetcher_FailedRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dir := t.TempDir()
	f := fetcher.NewHTTPFetcher(&stubSink{})

	result, err := f.Fetch(t.Context(), fetcher.Request{
		URL:         mustURL(t, server.URL+"/missing"),
		TargetPath:  filepath.Join(dir, "missing.html"),
		AllowedBase: dir,
		Timeout:     5 * time.Second,
		MaxBodySize: 1 << 20,
	})

	require.Nil(t, err)
	assert.Equal(t, fetcher.StatusFailedRequest, result.Status)
	assert.Equal(t, http.StatusNotFound, result.HTTPStatus)
}

func TestHTTPFetcher_TooBig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 1025))
	}))
	defer server.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "big.html")
	f := fetcher.NewHTTPFetcher(&stubSink{})

	result, err := f.Fetch(t.Context(), fetcher.Request{
		URL:         mustURL(t, server.URL+"/big"),
		TargetPath:  target,
		AllowedBase: dir,
		Timeout:     5 * time.Second,
		MaxBodySize: 1024,
	})

	require.Nil(t, err)
	assert.Equal(t, fetcher.StatusFailedTooBig, result.Status)
	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr), "no file should be written when the body exceeds the cap")
}

func TestHTTPFetcher_PathEscapesAllowedBase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	f := fetcher.NewHTTPFetcher(&stubSink{})

	_, err := f.Fetch(t.Context(), fetcher.Request{
		URL:         mustURL(t, server.URL+"/a"),
		TargetPath:  filepath.Join(dir, "..", "escaped.html"),
		AllowedBase: dir,
		Timeout:     5 * time.Second,
		MaxBodySize: 1 << 20,
	})

	require.NotNil(t, err)
}

func TestHTTPFetcher_Paywall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<html><body><p>Please Sign In</p><p>Log In to continue reading this article</p></body></html>`))
	}))
	defer server.Close()

	dir := t.TempDir()
	f := fetcher.NewHTTPFetcher(&stubSink{})

	result, err := f.Fetch(t.Context(), fetcher.Request{
		URL:         mustURL(t, server.URL+"/a"),
		TargetPath:  filepath.Join(dir, "a.html"),
		AllowedBase: dir,
		Timeout:     5 * time.Second,
		MaxBodySize: 1 << 20,
	})

	require.Nil(t, err)
	assert.Equal(t, fetcher.StatusFailedPaywall, result.Status)
}
