// Package featurelayer is a narrow client for hosted feature layers: read
// the live dataset, add new rows, update existing rows. The service speaks
// form-encoded requests and JSON responses, and reports failures inside a
// 200 body, so every response is checked for an embedded error object.
package featurelayer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agrc/broadband-speedtest-skid/internal/fetcher"
)

const (
	defaultPageSize    = 1000
	tokenExpiryMinutes = 60
)

// Client talks to one hosted-feature-service organization.
type Client struct {
	orgURL   string
	username string
	password string
	http     *http.Client
	logger   *zap.Logger

	token       string
	tokenExpiry time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a client for the organization at orgURL using account
// credentials for token auth.
func New(orgURL, username, password string, opts ...Option) *Client {
	c := &Client{
		orgURL:   strings.TrimRight(orgURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: 60 * time.Second},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ensureToken fetches or refreshes the auth token.
func (c *Client) ensureToken(ctx context.Context) error {
	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return nil
	}

	form := url.Values{
		"username":   {c.username},
		"password":   {c.password},
		"referer":    {c.orgURL},
		"expiration": {fmt.Sprint(tokenExpiryMinutes)},
		"f":          {"json"},
	}

	resp, err := postForm[tokenResponse](ctx, c, c.orgURL+"/sharing/rest/generateToken", form)
	if err != nil {
		return eris.Wrap(err, "featurelayer: generate token")
	}
	if resp.Error != nil {
		return eris.Errorf("featurelayer: generate token: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	if resp.Token == "" {
		return eris.New("featurelayer: generate token: empty token in response")
	}

	c.token = resp.Token
	c.tokenExpiry = time.UnixMilli(resp.Expires)
	c.logger.Debug("featurelayer: token refreshed")
	return nil
}

// QueryAll reads every row of a layer, paging until the service stops
// reporting a transfer limit. Geometry is not returned; callers only need
// attributes for de-duplication and merging.
func (c *Client) QueryAll(ctx context.Context, layerURL, outFields string) ([]Feature, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	var features []Feature
	offset := 0
	for {
		form := url.Values{
			"where":             {"1=1"},
			"outFields":         {outFields},
			"returnGeometry":    {"false"},
			"resultOffset":      {fmt.Sprint(offset)},
			"resultRecordCount": {fmt.Sprint(defaultPageSize)},
			"token":             {c.token},
			"f":                 {"json"},
		}

		resp, err := postForm[queryResponse](ctx, c, strings.TrimRight(layerURL, "/")+"/query", form)
		if err != nil {
			return nil, eris.Wrap(err, "featurelayer: query")
		}
		if resp.Error != nil {
			return nil, eris.Errorf("featurelayer: query: %s (code %d)", resp.Error.Message, resp.Error.Code)
		}

		features = append(features, resp.Features...)
		if !resp.ExceededTransferLimit {
			break
		}
		offset += len(resp.Features)
	}

	c.logger.Debug("featurelayer: queried layer",
		zap.String("layer", layerURL),
		zap.Int("features", len(features)),
	)
	return features, nil
}

// AddFeatures appends new rows to a layer and returns the number the
// service accepted. Rejected rows are logged, not fatal.
func (c *Client) AddFeatures(ctx context.Context, layerURL string, features []Feature) (int, error) {
	if len(features) == 0 {
		return 0, nil
	}
	resp, err := c.applyEdits(ctx, layerURL, features, nil)
	if err != nil {
		return 0, err
	}
	return c.countSuccesses(resp.AddResults, "add"), nil
}

// UpdateFeatures updates existing rows by their key attribute and returns
// the number the service accepted. With updateGeometry false, geometry is
// stripped from the payload so only attributes change.
func (c *Client) UpdateFeatures(ctx context.Context, layerURL string, features []Feature, updateGeometry bool) (int, error) {
	if len(features) == 0 {
		return 0, nil
	}

	if !updateGeometry {
		stripped := make([]Feature, len(features))
		for i, f := range features {
			f.Geometry = nil
			stripped[i] = f
		}
		features = stripped
	}

	resp, err := c.applyEdits(ctx, layerURL, nil, features)
	if err != nil {
		return 0, err
	}
	return c.countSuccesses(resp.UpdateResults, "update"), nil
}

func (c *Client) applyEdits(ctx context.Context, layerURL string, adds, updates []Feature) (*applyEditsResponse, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	form := url.Values{
		"token": {c.token},
		"f":     {"json"},
	}
	if len(adds) > 0 {
		payload, err := json.Marshal(adds)
		if err != nil {
			return nil, eris.Wrap(err, "featurelayer: marshal adds")
		}
		form.Set("adds", string(payload))
	}
	if len(updates) > 0 {
		payload, err := json.Marshal(updates)
		if err != nil {
			return nil, eris.Wrap(err, "featurelayer: marshal updates")
		}
		form.Set("updates", string(payload))
	}

	resp, err := postForm[applyEditsResponse](ctx, c, strings.TrimRight(layerURL, "/")+"/applyEdits", form)
	if err != nil {
		return nil, eris.Wrap(err, "featurelayer: apply edits")
	}
	if resp.Error != nil {
		return nil, eris.Errorf("featurelayer: apply edits: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	return resp, nil
}

func (c *Client) countSuccesses(results []editResult, op string) int {
	count := 0
	for _, r := range results {
		if r.Success {
			count++
			continue
		}
		c.logger.Warn("featurelayer: edit rejected",
			zap.String("op", op),
			zap.Int64("object_id", r.ObjectID),
		)
	}
	return count
}

func postForm[T any](ctx context.Context, c *Client, rawURL string, form url.Values) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "featurelayer: create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "featurelayer: post %s", rawURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("featurelayer: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	out, err := fetcher.DecodeJSONObject[T](resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "featurelayer: decode response")
	}
	return out, nil
}
