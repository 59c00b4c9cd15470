// Package loader fetches raw CSV text from a local path or an HTTP(S) URL.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrTimeout is returned when a remote source does not answer in time.
var ErrTimeout = errors.New("data source timed out")

// StatusError reports a non-2xx answer from a remote source.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("data source status %d (%s)", e.Code, e.Status)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Loader reads data sources.
type Loader struct {
	client  *http.Client
	timeout time.Duration
}

// New returns a loader. A nil client means http.DefaultClient; timeout
// bounds remote fetches including the body read.
func New(client *http.Client, timeout time.Duration) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client, timeout: timeout}
}

// IsRemote reports whether source is an http or https URL.
func IsRemote(source string) bool {
	s := strings.ToLower(strings.TrimSpace(source))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Fetch returns the contents of source with any UTF-8 byte order mark removed.
func (l *Loader) Fetch(ctx context.Context, source string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if IsRemote(source) {
		data, err = l.fetchRemote(ctx, source)
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			err = fmt.Errorf("read %s: %w", source, err)
		}
	}
	if err != nil {
		return nil, err
	}
	return bytes.TrimPrefix(data, utf8BOM), nil
}

func (l *Loader) fetchRemote(ctx context.Context, source string) ([]byte, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.5")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, l.wrap(ctx, source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, l.wrap(ctx, source, err)
	}
	return data, nil
}

func (l *Loader) wrap(ctx context.Context, source string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %s", ErrTimeout, l.timeout, source)
	}
	return fmt.Errorf("fetch %s: %w", source, err)
}
