package crawlengine_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/archiveforge/docscrawler/internal/fetcher"
	"github.com/archiveforge/docscrawler/internal/indexwriter"
	"github.com/archiveforge/docscrawler/internal/metadata"
)

func TestEngine_Run_MarkdownProjectionWritesSidecarFile(t *testing.T) {
	mux := http.NewServeMux()
	allowAllRobots(mux)
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><article><h1>Title</h1><p>hello world, this page has enough text to clear the content-extraction thresholds used by the sidecar under test.</p></article></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	seed := localhostURL(t, srv.URL+"/page")
	dir := t.TempDir()
	cfg := newTestConfig(t, seed, filepath.Join(dir, "content"))
	cfg.WithOutputDir(dir).WithEnableMarkdownProjection(true)

	eng, w := newEngine(t, cfg, fetcher.NewHTTPFetcher(&metadata.NoopSink{}), noopBrowserFetcher{t}, filepath.Join(dir, "index.jsonl"), fakeResolver{safe: true})
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	recs := readIndex(t, w.Path())
	if len(recs) != 1 || recs[0].FetchStatus != indexwriter.StatusSuccess {
		t.Fatalf("expected a single success record regardless of sidecar outcome, got %+v", recs)
	}

	markdownRoot := filepath.Join(dir, "markdown")
	entries, err := os.ReadDir(markdownRoot)
	if err != nil {
		t.Fatalf("expected a markdown directory to exist: %v", err)
	}
	var sawMarkdownFile bool
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".md" {
			sawMarkdownFile = true
		}
	}
	if !sawMarkdownFile {
		t.Fatalf("expected at least one .md file under %s, got entries: %+v", markdownRoot, entries)
	}
}

func TestEngine_Run_MarkdownProjectionDisabledByDefault(t *testing.T) {
	mux := http.NewServeMux()
	allowAllRobots(mux)
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>hello</p></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	seed := localhostURL(t, srv.URL+"/page")
	dir := t.TempDir()
	cfg := newTestConfig(t, seed, filepath.Join(dir, "content"))
	cfg.WithOutputDir(dir)

	eng, w := newEngine(t, cfg, fetcher.NewHTTPFetcher(&metadata.NoopSink{}), noopBrowserFetcher{t}, filepath.Join(dir, "index.jsonl"), fakeResolver{safe: true})
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	if _, err := os.Stat(filepath.Join(dir, "markdown")); !os.IsNotExist(err) {
		t.Fatalf("expected no markdown directory when projection is disabled, stat err: %v", err)
	}
}

func TestEngine_Run_MarkdownProjectionSwallowsSidecarFailure(t *testing.T) {
	mux := http.NewServeMux()
	allowAllRobots(mux)
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		// No extractable content: too short to clear the extractor's
		// minimum-content gate, so every sidecar stage after extraction is
		// skipped — the fetch itself must still be recorded as a success.
		w.Write([]byte(`<html><body></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	seed := localhostURL(t, srv.URL+"/page")
	dir := t.TempDir()
	cfg := newTestConfig(t, seed, filepath.Join(dir, "content"))
	cfg.WithOutputDir(dir).WithEnableMarkdownProjection(true)

	eng, w := newEngine(t, cfg, fetcher.NewHTTPFetcher(&metadata.NoopSink{}), noopBrowserFetcher{t}, filepath.Join(dir, "index.jsonl"), fakeResolver{safe: true})
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	recs := readIndex(t, w.Path())
	if len(recs) != 1 || recs[0].FetchStatus != indexwriter.StatusSuccess {
		t.Fatalf("expected fetch_status to stay success even when the sidecar can't extract content, got %+v", recs)
	}
}
