package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchURLContent(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head>
  <title>Test Page</title>
  <style>body { color: red; }</style>
  <script>console.log("noise");</script>
</head>
<body>
  <h1>Heading</h1>
  <p>First   paragraph with    spaces.</p>
  <noscript>enable js</noscript>
  <p>Second paragraph.</p>
</body>
</html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer server.Close()

	title, content, err := FetchURLContent(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if title != "Test Page" {
		t.Errorf("title = %q", title)
	}
	if !strings.Contains(content, "First paragraph with spaces.") {
		t.Errorf("content not whitespace-collapsed: %q", content)
	}
	if strings.Contains(content, "console.log") || strings.Contains(content, "color: red") || strings.Contains(content, "enable js") {
		t.Errorf("script/style/noscript text leaked into content: %q", content)
	}
}

func TestFetchURLContentHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	if _, _, err := FetchURLContent(context.Background(), server.URL); err == nil {
		t.Error("expected error for HTTP 404")
	}
	if _, _, err := FetchURLContent(context.Background(), "http://127.0.0.1:1/none"); err == nil {
		t.Error("expected error for unreachable host")
	}
}

func TestFetchURLContentEmptyPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Empty</title></head><body><script>x()</script></body></html>`))
	}))
	defer server.Close()

	title, _, err := FetchURLContent(context.Background(), server.URL)
	if err == nil {
		t.Error("expected error for page without readable content")
	}
	if title != "Empty" {
		t.Errorf("title = %q", title)
	}
}
