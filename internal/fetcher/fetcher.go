package fetcher

import (
	"context"
	"net/url"
)

// Fetcher defines the interface for pulling remote data.
type Fetcher interface {
	// Get fetches the URL with the given query parameters and returns the
	// response body. Any transport or non-200 response is an error; there
	// is no retry, a failed call is fatal to the run.
	Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error)
}
