package dictionary

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxBytes bounds the size of a corpus payload after decompression.
	DefaultMaxBytes   = 64 << 20
	defaultRetryDelay = 500 * time.Millisecond
	userAgent         = "vortaro-cli"
)

// Fetcher retrieves one raw corpus payload.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// HTTPFetcher downloads the corpus from a URL.
type HTTPFetcher struct {
	URL        string
	Client     *http.Client
	MaxBytes   int64
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// NewHTTPFetcher creates an HTTPFetcher with a client bounded by timeout.
func NewHTTPFetcher(url string, timeout time.Duration, logger *zap.Logger) *HTTPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFetcher{
		URL:        url,
		Client:     &http.Client{Timeout: timeout},
		MaxBytes:   DefaultMaxBytes,
		RetryDelay: defaultRetryDelay,
		Logger:     logger.Named("fetcher"),
	}
}

// Fetch performs a GET, retrying once on a network error or 5xx response.
// Every failure is returned as a *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	log := f.Logger
	if log == nil {
		log = zap.NewNop()
	}

	resp, err := f.doWithRetry(ctx, log)
	if err != nil {
		return nil, &FetchError{Source: f.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: f.URL, Status: resp.StatusCode}
	}

	maxBytes := f.maxBytes()
	if resp.ContentLength > maxBytes {
		return nil, &FetchError{Source: f.URL, Err: fmt.Errorf("content length %d exceeds limit of %d bytes", resp.ContentLength, maxBytes)}
	}

	body, err := readPayload(resp.Body, maxBytes)
	if err != nil {
		return nil, &FetchError{Source: f.URL, Err: err}
	}
	log.Debug("corpus downloaded", zap.String("url", f.URL), zap.Int("bytes", len(body)))
	return body, nil
}

func (f *HTTPFetcher) doWithRetry(ctx context.Context, log *zap.Logger) (*http.Response, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	do := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")
		return client.Do(req)
	}

	resp, err := do()
	shouldRetry := err != nil || resp.StatusCode >= http.StatusInternalServerError
	if !shouldRetry || ctx.Err() != nil {
		return resp, err
	}

	reason := "network error"
	if err == nil {
		reason = fmt.Sprintf("status %d", resp.StatusCode)
		resp.Body.Close()
	}
	log.Warn("corpus fetch retry", zap.String("url", f.URL), zap.String("reason", reason))

	delay := f.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}
	return do()
}

func (f *HTTPFetcher) maxBytes() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return DefaultMaxBytes
}

// FileFetcher reads the corpus from a local file.
type FileFetcher struct {
	Path     string
	MaxBytes int64
}

// Fetch reads the file, decompressing it when it is gzipped.
func (f FileFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Source: f.Path, Err: err}
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, &FetchError{Source: f.Path, Err: err}
	}
	defer file.Close()

	maxBytes := f.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	body, err := readPayload(file, maxBytes)
	if err != nil {
		return nil, &FetchError{Source: f.Path, Err: err}
	}
	return body, nil
}

var gzipMagic = []byte{0x1f, 0x8b}

// readPayload reads at most maxBytes, transparently gunzipping. Reading one
// byte past the limit distinguishes an exact fit from truncation.
func readPayload(r io.Reader, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("payload exceeds limit of %d bytes", maxBytes)
	}
	if !bytes.HasPrefix(body, gzipMagic) {
		return body, nil
	}

	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()
	plain, err := io.ReadAll(io.LimitReader(gz, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if int64(len(plain)) > maxBytes {
		return nil, fmt.Errorf("decompressed payload exceeds limit of %d bytes", maxBytes)
	}
	return plain, nil
}
