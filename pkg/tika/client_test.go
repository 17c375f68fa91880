package tika_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cdef-ta-go/internal/config"
	"cdef-ta-go/pkg/tika"
)

func TestExtractTextPutsFileToTika(t *testing.T) {
	var gotMethod, gotPath, gotAccept, gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, "extracted plain text")
	}))
	defer srv.Close()

	client := tika.NewClient(config.TikaConfig{ServerURL: srv.URL})
	text, err := client.ExtractText(context.Background(), strings.NewReader("%PDF-1.4 fake"), "lecture.pdf")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}

	if text != "extracted plain text" {
		t.Fatalf("text = %q", text)
	}
	if gotMethod != http.MethodPut || gotPath != "/tika" {
		t.Fatalf("request = %s %s, want PUT /tika", gotMethod, gotPath)
	}
	if gotAccept != "text/plain" {
		t.Fatalf("Accept = %q, want text/plain", gotAccept)
	}
	if gotContentType != "application/pdf" {
		t.Fatalf("Content-Type = %q, want application/pdf", gotContentType)
	}
	if string(gotBody) != "%PDF-1.4 fake" {
		t.Fatal("file body should be forwarded untouched")
	}
}

func TestExtractTextSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, "cannot parse document")
	}))
	defer srv.Close()

	client := tika.NewClient(config.TikaConfig{ServerURL: srv.URL})
	if _, err := client.ExtractText(context.Background(), strings.NewReader("junk"), "broken.pdf"); err == nil {
		t.Fatal("expected error when Tika rejects the document")
	}
}

func TestExtractTextUnknownExtensionFallsBack(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	client := tika.NewClient(config.TikaConfig{ServerURL: srv.URL})
	if _, err := client.ExtractText(context.Background(), strings.NewReader("data"), "noext"); err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if gotContentType != "application/octet-stream" {
		t.Fatalf("Content-Type = %q, want application/octet-stream", gotContentType)
	}
}
