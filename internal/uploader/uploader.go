// SPDX-License-Identifier: MIT

// Package uploader moves bytes between the scratch directory and presigned
// S3 URLs. All outbound requests pass through the loopback bridge.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/metrics"
	"github.com/capso/media-server/internal/netbridge"
	"github.com/capso/media-server/internal/tempfile"
)

// DownloadTimeout bounds a source download.
const DownloadTimeout = 10 * time.Minute

// Client performs presigned transfers.
type Client struct {
	bridge *netbridge.Bridge
	store  *tempfile.Store
}

// New creates a transfer client.
func New(bridge *netbridge.Bridge, store *tempfile.Store) *Client {
	return &Client{bridge: bridge, store: store}
}

// UploadBytes PUTs a buffer to a presigned URL with exact content headers.
func (c *Client) UploadBytes(ctx context.Context, data []byte, url, contentType string) error {
	return c.upload(ctx, bytes.NewReader(data), int64(len(data)), url, contentType)
}

// UploadFile streams a file body to a presigned URL.
func (c *Client) UploadFile(ctx context.Context, path, url, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindUploadFailed, "failed to open upload source", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindUploadFailed, "failed to stat upload source", err)
	}
	return c.upload(ctx, f, info.Size(), url, contentType)
}

func (c *Client) upload(ctx context.Context, body io.Reader, size int64, url, contentType string) error {
	req, err := c.bridge.NewRequest(ctx, http.MethodPut, url, body)
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindUploadFailed, "invalid upload URL", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = size
	req.Header.Set("Content-Length", strconv.FormatInt(size, 10))

	resp, err := c.bridge.Do(req)
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindUploadFailed, "upload request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return mediaerr.New(mediaerr.KindUploadFailed,
			fmt.Sprintf("upload returned status %d", resp.StatusCode)).
			WithDetails(string(tail))
	}

	metrics.UploadBytes.Add(float64(size))
	logger := log.WithComponent("uploader")
	logger.Debug().
		Int64("bytes", size).
		Str("content_type", contentType).
		Msg("upload completed")
	return nil
}

// DownloadToTemp fetches a URL into a fresh scratch file and returns the
// handle plus the byte count. The caller owns the handle.
func (c *Client) DownloadToTemp(ctx context.Context, url, ext string) (*tempfile.Handle, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	req, err := c.bridge.NewRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid download URL: %w", err)
	}

	resp, err := c.bridge.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, 0, mediaerr.New(mediaerr.KindTimeout, "download timed out")
		}
		return nil, 0, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	handle := c.store.New(ext)
	f, err := os.Create(handle.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("create download target: %w", err)
	}

	written, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err != nil || closeErr != nil {
		handle.Cleanup()
		if err == nil {
			err = closeErr
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, 0, mediaerr.New(mediaerr.KindTimeout, "download timed out")
		}
		return nil, 0, fmt.Errorf("download copy failed: %w", err)
	}

	logger := log.WithComponent("uploader")
	logger.Debug().
		Int64("bytes", written).
		Str("path", handle.Path).
		Msg("download completed")
	return handle, written, nil
}
