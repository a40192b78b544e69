package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher downloads source files over HTTP with a hard size cap, so a
// mis-declared upload cannot exhaust worker memory.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
}

func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = time.Minute
	}
	if maxBytes <= 0 {
		maxBytes = 100 << 20
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download source status: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read source body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("source exceeds size limit of %d bytes", f.maxBytes)
	}
	return data, nil
}
