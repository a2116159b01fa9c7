// Package fetcher opens exported datasets and decodes them element by element.
package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray decodes a top-level JSON array one element at a time and
// calls fn for each. It returns the number of elements handed to fn.
// Decoding stops at the first malformed element, at the first error from
// fn, or when ctx is cancelled.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader, fn func(T) error) (int, error) {
	decoder := json.NewDecoder(r)

	tok, err := decoder.Token()
	if err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, eris.Wrap(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return 0, eris.Errorf("json: expected '[', got %v", tok)
	}

	n := 0
	for decoder.More() {
		if err := ctx.Err(); err != nil {
			return n, eris.Wrap(err, "json: context cancelled")
		}

		var item T
		if err := decoder.Decode(&item); err != nil {
			return n, eris.Wrapf(err, "json: decode element %d", n)
		}
		if err := fn(item); err != nil {
			return n, err
		}
		n++
	}

	if _, err := decoder.Token(); err != nil && err != io.EOF {
		return n, eris.Wrap(err, "json: read closing token")
	}
	return n, nil
}

// Open returns a reader for a local path or an http(s) URL.
func Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		f, err := os.Open(location)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", location)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	resp, err := (&http.Client{Timeout: 5 * time.Minute}).Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: download %s", location)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() //nolint:errcheck
		return nil, eris.Errorf("fetcher: download %s: unexpected status %d", location, resp.StatusCode)
	}
	return resp.Body, nil
}
