package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultRequestTimeout is the per-attempt deadline for plain requests.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultDownloadTimeout is the per-attempt deadline for downloads.
	DefaultDownloadTimeout = 120 * time.Second
	// DefaultRetryDelay is the initial backoff, doubled per attempt.
	DefaultRetryDelay = time.Second
	// DefaultMaxRedirects caps the redirect chain length.
	DefaultMaxRedirects = 5
	// DefaultUserAgent is the User-Agent header sent with requests.
	DefaultUserAgent = "kestrel/1.0"

	copyBufferSize = 32 * 1024
)

// ProgressFunc receives cumulative downloaded bytes after each chunk.
// Total is -1 when the server did not send a Content-Length.
type ProgressFunc func(downloaded, total int64)

// Options configures a single request or download.
type Options struct {
	// Retries is the number of retries after the first attempt.
	Retries int
	// RetryDelay is the initial backoff; it doubles per attempt.
	// Zero means DefaultRetryDelay.
	RetryDelay time.Duration
	// FollowRedirects enables redirect following up to MaxRedirects.
	FollowRedirects bool
	// MaxRedirects caps the redirect chain. Zero means DefaultMaxRedirects.
	MaxRedirects int
	// Timeout is the per-attempt deadline. Zero means the operation default.
	Timeout time.Duration
	// OnProgress, if set, is invoked during downloads after each chunk.
	OnProgress ProgressFunc
}

// DefaultOptions returns request options with the documented defaults.
func DefaultOptions() Options {
	return Options{
		FollowRedirects: true,
		MaxRedirects:    DefaultMaxRedirects,
		RetryDelay:      DefaultRetryDelay,
		Timeout:         DefaultRequestTimeout,
	}
}

// DefaultDownloadOptions returns download options with the longer
// download deadline.
func DefaultDownloadOptions() Options {
	opts := DefaultOptions()
	opts.Timeout = DefaultDownloadTimeout
	return opts
}

func (o Options) withDefaults(fallbackTimeout time.Duration) Options {
	if o.RetryDelay == 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	if o.Timeout == 0 {
		o.Timeout = fallbackTimeout
	}
	return o
}

// Response is a fully buffered HTTP response. Downloads never use this
// path; their bodies stream straight to disk.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Result describes a completed download.
type Result struct {
	Path string
	Size int64
}

// Client issues requests and downloads with bounded retries. The zero
// http.Client timeout is intentional: deadlines are applied per attempt
// so a retry gets a fresh budget.
type Client struct {
	httpClient *http.Client
	userAgent  string

	// sleep is the backoff wait, injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a retrying HTTP client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			// Redirects are followed manually so the hop limit is enforced.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: DefaultUserAgent,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request performs a GET and buffers the response body.
func (c *Client) Request(ctx context.Context, url string, opts Options) (*Response, error) {
	opts = opts.withDefaults(DefaultRequestTimeout)

	var out *Response
	err := c.withRetries(ctx, url, opts, func(attemptCtx context.Context) error {
		resp, err := c.doFollowingRedirects(attemptCtx, url, opts)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return wrapTransportError(url, opts.Timeout, attemptCtx, err)
		}

		out = &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Download streams a URL to destPath. The body is written to a temporary
// sibling and renamed into place only on full success.
func (c *Client) Download(ctx context.Context, url, destPath string, opts Options) (*Result, error) {
	opts = opts.withDefaults(DefaultDownloadTimeout)

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, fmt.Errorf("create dest dir: %w", err)
	}

	var out *Result
	err := c.withRetries(ctx, url, opts, func(attemptCtx context.Context) error {
		size, err := c.downloadOnce(attemptCtx, url, destPath, opts)
		if err != nil {
			return err
		}
		out = &Result{Path: destPath, Size: size}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withRetries runs one attempt function with per-attempt deadlines and
// exponential backoff. Terminal errors surface immediately; exhausted
// retries surface the last error.
func (c *Client) withRetries(ctx context.Context, url string, opts Options, attempt func(ctx context.Context) error) error {
	var lastErr error

	for try := 0; try <= opts.Retries; try++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if try > 0 {
			delay := opts.RetryDelay * time.Duration(1<<uint(try-1))
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		err := attempt(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		// The caller's own cancellation is never retried.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		if !retryable(err) {
			return err
		}
	}

	return lastErr
}

// doFollowingRedirects issues a GET and walks the redirect chain by hand.
// The returned response always has a success status; a redirect with
// following disabled surfaces as a StatusError like any other non-2xx.
// The caller owns the body.
func (c *Client) doFollowingRedirects(ctx context.Context, url string, opts Options) (*http.Response, error) {
	current := url

	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, wrapTransportError(current, opts.Timeout, ctx, err)
		}

		if !isRedirect(resp.StatusCode) || !opts.FollowRedirects {
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				resp.Body.Close()
				return nil, &StatusError{URL: current, StatusCode: resp.StatusCode}
			}
			return resp, nil
		}

		location := resp.Header.Get("Location")
		resp.Body.Close()

		if hop >= opts.MaxRedirects {
			return nil, &RedirectLoopError{URL: url, Limit: opts.MaxRedirects}
		}
		if location == "" {
			return nil, fmt.Errorf("redirect from %s missing Location header", current)
		}

		next, err := resp.Request.URL.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("resolve redirect location %q: %w", location, err)
		}
		current = next.String()
	}
}

// downloadOnce performs a single streaming download attempt.
func (c *Client) downloadOnce(ctx context.Context, url, destPath string, opts Options) (int64, error) {
	resp, err := c.doFollowingRedirects(ctx, url, opts)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	size, err := copyWithProgress(tmpFile, resp.Body, resp.ContentLength, opts.OnProgress)
	if err != nil {
		return 0, wrapTransportError(url, opts.Timeout, ctx, err)
	}

	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("rename temp file: %w", err)
	}

	cleanupNeeded = false
	return size, nil
}

// copyWithProgress streams src to dst in fixed-size chunks, reporting
// cumulative bytes after each chunk. The body is never fully buffered.
func copyWithProgress(dst io.Writer, src io.Reader, total int64, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write chunk: %w", err)
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// wrapTransportError classifies a transport failure as a timeout or a
// network error, preferring the attempt deadline when it fired.
func wrapTransportError(url string, timeout time.Duration, ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: url, Timeout: timeout, Err: err}
	}
	return &NetworkError{URL: url, Err: err}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}
