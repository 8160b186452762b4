// ABOUTME: Tests for filesystem media storage and the HTTP image generator
// ABOUTME: Uses temp directories and httptest servers

package media

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFSStore_UploadAndCheck(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), "http://media.example.com/files/")
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	ctx := context.Background()

	// Absent file reads as empty URL, not an error.
	url, err := store.CheckExists(ctx, "user-1", "agent_g1.jpeg")
	if err != nil {
		t.Fatalf("CheckExists failed: %v", err)
	}
	if url != "" {
		t.Errorf("expected empty URL for absent file, got %q", url)
	}

	url, err = store.Upload(ctx, "user-1", "agent_g1.jpeg", []byte{0xff, 0xd8, 0xff})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	want := "http://media.example.com/files/user-1/agent_g1.jpeg"
	if url != want {
		t.Errorf("Upload URL = %q, want %q", url, want)
	}

	url, err = store.CheckExists(ctx, "user-1", "agent_g1.jpeg")
	if err != nil {
		t.Fatalf("CheckExists failed: %v", err)
	}
	if url != want {
		t.Errorf("CheckExists URL = %q, want %q", url, want)
	}

	// Other users don't see the file.
	url, err = store.CheckExists(ctx, "user-2", "agent_g1.jpeg")
	if err != nil {
		t.Fatalf("CheckExists failed: %v", err)
	}
	if url != "" {
		t.Errorf("expected empty URL for other user, got %q", url)
	}
}

func TestFSStore_RejectsTraversal(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), "http://media.example.com")
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Upload(ctx, "user-1", "../escape.jpeg", []byte("x")); err == nil {
		t.Error("expected error for traversal filename")
	}
	if _, err := store.CheckExists(ctx, "../user", "file.jpeg"); err == nil {
		t.Error("expected error for traversal user id")
	}
	if _, err := store.Upload(ctx, "user-1", "", []byte("x")); err == nil {
		t.Error("expected error for empty filename")
	}
}

func TestHTTPImageGenerator_Generate(t *testing.T) {
	var gotDescriptor AgentDescriptor
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotDescriptor); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	gen := NewHTTPImageGenerator(server.URL)
	image, err := gen.Generate(context.Background(), AgentDescriptor{Name: "Mail Sorter", Description: "Sorts mail"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if string(image) != "image-bytes" {
		t.Errorf("unexpected image payload: %q", image)
	}
	if gotDescriptor.Name != "Mail Sorter" {
		t.Errorf("descriptor name = %q", gotDescriptor.Name)
	}
}

func TestHTTPImageGenerator_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	gen := NewHTTPImageGenerator(server.URL)
	if _, err := gen.Generate(context.Background(), AgentDescriptor{Name: "x"}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestHTTPImageGenerator_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	gen := NewHTTPImageGenerator(server.URL)
	if _, err := gen.Generate(context.Background(), AgentDescriptor{Name: "x"}); err == nil {
		t.Error("expected error for empty image body")
	}
}
