// Package source retrieves the input media of a job.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/storage"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
)

const opFetch = "fetch_source"

// ErrTooLarge is returned when a source exceeds the configured limit.
var ErrTooLarge = errors.New("source exceeds size limit")

// Fetcher downloads job sources. URLs issued by the object store are read
// through the store; anything else must be http(s).
type Fetcher struct {
	store    storage.ObjectStore
	client   *http.Client
	maxBytes int64
	logger   hclog.Logger
}

// NewFetcher creates a fetcher. maxBytes <= 0 disables the limit.
func NewFetcher(store storage.ObjectStore, maxBytes int64, logger hclog.Logger) *Fetcher {
	return &Fetcher{
		store:    store,
		client:   &http.Client{Timeout: 30 * time.Minute},
		maxBytes: maxBytes,
		logger:   logger.Named("source"),
	}
}

// WithHTTPClient replaces the client used for remote sources.
func (f *Fetcher) WithHTTPClient(client *http.Client) *Fetcher {
	f.client = client
	return f
}

// Fetch returns the bytes at rawURL and the best known content type.
// Every failure is an IOFailure.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if f.store != nil {
		if objectPath, ok := f.store.PathFromURL(rawURL); ok {
			data, err := f.store.Get(ctx, objectPath)
			if err != nil {
				return nil, "", tcerrors.IOError(opFetch, err)
			}
			if err := f.checkSize(int64(len(data))); err != nil {
				return nil, "", err
			}
			f.logger.Debug("fetched source from store", "path", objectPath, "size", len(data))
			return data, storage.ContentTypeFor(objectPath), nil
		}
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, "", tcerrors.IOError(opFetch, fmt.Errorf("unsupported source url scheme"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", tcerrors.IOError(opFetch, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", tcerrors.IOError(opFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", tcerrors.IOError(opFetch, fmt.Errorf("source responded with status %d", resp.StatusCode)).
			WithDetail("status_code", resp.StatusCode)
	}
	if resp.ContentLength > 0 {
		if err := f.checkSize(resp.ContentLength); err != nil {
			return nil, "", err
		}
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", tcerrors.IOError(opFetch, err)
	}
	if err := f.checkSize(int64(len(data))); err != nil {
		return nil, "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = storage.ContentTypeFor(req.URL.Path)
	}
	f.logger.Debug("fetched remote source", "size", len(data), "content_type", contentType)
	return data, contentType, nil
}

func (f *Fetcher) checkSize(n int64) error {
	if f.maxBytes > 0 && n > f.maxBytes {
		return tcerrors.IOError(opFetch, ErrTooLarge).
			WithDetail("size", n).
			WithDetail("limit", f.maxBytes)
	}
	return nil
}
