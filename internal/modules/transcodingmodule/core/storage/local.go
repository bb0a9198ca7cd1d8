package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// LocalStore keeps objects under a directory and serves them from baseURL
// (the server mounts the directory at /media).
type LocalStore struct {
	root    string
	baseURL string
	logger  hclog.Logger
}

// NewLocalStore creates a store rooted at root.
func NewLocalStore(root, baseURL string, logger hclog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &LocalStore{
		root:    abs,
		baseURL: baseURL,
		logger:  logger.Named("local-store"),
	}, nil
}

// Put writes through a temporary file so readers never see a partial object.
func (s *LocalStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, full, err := s.resolve(objectPath)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move object into place: %w", err)
	}

	s.logger.Debug("stored object", "path", clean, "size", len(data), "content_type", contentType)
	return s.URL(clean), nil
}

// Get reads an object.
func (s *LocalStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, full, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", objectPath, ErrObjectNotFound)
	}
	return data, err
}

// URL returns the public URL of objectPath.
func (s *LocalStore) URL(objectPath string) string {
	return joinURL(s.baseURL, objectPath)
}

// PathFromURL reverses URL.
func (s *LocalStore) PathFromURL(rawURL string) (string, bool) {
	return pathFromURL(s.baseURL, rawURL)
}

// FilePath returns the on-disk location of an existing object, for serving.
func (s *LocalStore) FilePath(objectPath string) (string, error) {
	_, full, err := s.resolve(objectPath)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%s: %w", objectPath, ErrObjectNotFound)
	}
	return full, nil
}

// Root returns the storage directory
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) resolve(objectPath string) (string, string, error) {
	clean, err := CleanPath(objectPath)
	if err != nil {
		return "", "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("object path %q escapes the store: %w", objectPath, ErrInvalidPath)
	}
	return clean, full, nil
}
