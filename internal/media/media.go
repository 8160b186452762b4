// ABOUTME: Media storage collaborator: agent thumbnails and other user files
// ABOUTME: Filesystem-backed implementation serving from a configured base URL

package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Store holds user media files and hands out stable URLs for them.
type Store interface {
	// CheckExists returns the file's URL, or "" when the file is absent.
	CheckExists(ctx context.Context, userID, filename string) (string, error)

	// Upload stores the file and returns its URL.
	Upload(ctx context.Context, userID, filename string, data []byte) (string, error)
}

// FSStore keeps media on the local filesystem under dir/<userID>/<filename>
// and builds URLs from a configured base.
type FSStore struct {
	dir     string
	baseURL string
	logger  *slog.Logger
}

// NewFSStore creates a filesystem media store rooted at dir.
func NewFSStore(dir, baseURL string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	return &FSStore{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  slog.Default().With("component", "media"),
	}, nil
}

func (s *FSStore) url(userID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", s.baseURL, userID, filename)
}

// path validates the filename and resolves it under the user's directory.
// Path separators and traversal are rejected; filenames come from code, not
// users, so this is a guard against programming errors.
func (s *FSStore) path(userID, filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("invalid media filename %q", filename)
	}
	if userID == "" || userID != filepath.Base(userID) {
		return "", fmt.Errorf("invalid media user id %q", userID)
	}
	return filepath.Join(s.dir, userID, filename), nil
}

// CheckExists returns the URL when the file is present, "" when not.
func (s *FSStore) CheckExists(_ context.Context, userID, filename string) (string, error) {
	p, err := s.path(userID, filename)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(p); os.IsNotExist(err) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("checking media file: %w", err)
	}
	return s.url(userID, filename), nil
}

// Upload writes the file and returns its URL.
func (s *FSStore) Upload(_ context.Context, userID, filename string, data []byte) (string, error) {
	p, err := s.path(userID, filename)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("creating user media directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("writing media file: %w", err)
	}

	s.logger.Debug("uploaded media", "user_id", userID, "filename", filename, "bytes", len(data))
	return s.url(userID, filename), nil
}

var _ Store = (*FSStore)(nil)
