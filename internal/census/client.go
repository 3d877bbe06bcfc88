// Package census pulls household counts from the Census ACS API.
package census

import (
	"bytes"
	"context"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agrc/broadband-speedtest-skid/internal/fetcher"
)

// Client fetches the raw ACS array-of-arrays payload. Row 0 is the column
// header; normalization lives in internal/county.
type Client struct {
	baseURL string
	params  map[string]string
	fetcher fetcher.Fetcher
	logger  *zap.Logger
}

// New creates a census client with fixed query parameters (variable list,
// geography filter).
func New(baseURL string, params map[string]string, f fetcher.Fetcher, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, params: params, fetcher: f, logger: logger}
}

// Fetch returns the raw payload rows, header first.
func (c *Client) Fetch(ctx context.Context) ([][]string, error) {
	params := url.Values{}
	for k, v := range c.params {
		params.Set(k, v)
	}

	body, err := c.fetcher.Get(ctx, c.baseURL, params)
	if err != nil {
		return nil, eris.Wrap(err, "census: fetch")
	}

	outCh, errCh := fetcher.DecodeJSONArray[[]string](ctx, bytes.NewReader(body))
	var rows [][]string
	for row := range outCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "census: decode")
	}

	c.logger.Info("census: fetched reference rows", zap.Int("count", len(rows)))
	return rows, nil
}
