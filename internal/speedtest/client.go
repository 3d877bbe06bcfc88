// Package speedtest pulls submitted speedtest records from the source API.
package speedtest

import (
	"bytes"
	"context"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/agrc/broadband-speedtest-skid/internal/bucket"
	"github.com/agrc/broadband-speedtest-skid/internal/fetcher"
	"github.com/agrc/broadband-speedtest-skid/internal/model"
	"github.com/agrc/broadband-speedtest-skid/internal/projection"
)

// row mirrors one <row> element of the source XML. Everything comes in as
// text; parsing happens when building the typed record.
type row struct {
	ID        string `xml:"id"`
	DL        string `xml:"dl"`
	UL        string `xml:"ul"`
	Longitude string `xml:"longitude"`
	Latitude  string `xml:"latitude"`
	ISPInfo   string `xml:"ispinfo"`
	County    string `xml:"county"`
	Timestamp string `xml:"timestamp"`
	Email     string `xml:"email"`
	IP        string `xml:"ip"`
	Cost      string `xml:"cost"`
	ASN       string `xml:"ASN"`
	Coop      string `xml:"coop"`
	Tribal    string `xml:"tribal"`
	WouldPay  string `xml:"wouldpay"`
	BlockID   string `xml:"blockid"`
	MNC       string `xml:"mnc"`
	MCC       string `xml:"mcc"`
	Repeats   string `xml:"repeats"`
}

// Client fetches and parses speedtest submissions.
type Client struct {
	baseURL     string
	fetcher     fetcher.Fetcher
	keyer       bucket.Keyer
	resolutions []int
	logger      *zap.Logger
}

// New creates a speedtest client. Records come back with geographic
// geometry and H3 keys at the given resolutions already attached.
func New(baseURL string, f fetcher.Fetcher, keyer bucket.Keyer, resolutions []int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     baseURL,
		fetcher:     f,
		keyer:       keyer,
		resolutions: resolutions,
		logger:      logger,
	}
}

// Fetch pulls all submissions for a state. The source emits XML littered
// with stray newlines, so the body is flattened before decoding.
func (c *Client) Fetch(ctx context.Context, state, recordFlag string) ([]model.SpeedRecord, error) {
	body, err := c.fetcher.Get(ctx, c.baseURL, url.Values{
		"state":  {state},
		"record": {recordFlag},
	})
	if err != nil {
		return nil, eris.Wrap(err, "speedtest: fetch")
	}

	cleaned := bytes.ReplaceAll(body, []byte("\n"), nil)

	outCh, errCh := fetcher.StreamXML[row](ctx, bytes.NewReader(cleaned), "row")
	var records []model.SpeedRecord
	for r := range outCh {
		record, ok := c.build(r)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "speedtest: decode")
	}

	bucket.AssignKeys(records, c.keyer, c.resolutions)

	c.logger.Info("speedtest: fetched records", zap.Int("count", len(records)))
	return records, nil
}

// build converts a raw row to a typed record. Rows without a usable id or
// location are skipped; bad speed values degrade to NaN instead.
func (c *Client) build(r row) (model.SpeedRecord, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.ID), 10, 64)
	if err != nil {
		c.logger.Warn("speedtest: skipping row with bad id", zap.String("id", r.ID))
		return model.SpeedRecord{}, false
	}

	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(r.Longitude), 64)
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(r.Latitude), 64)
	if lonErr != nil || latErr != nil {
		c.logger.Warn("speedtest: skipping row without a location", zap.Int64("id", id))
		return model.SpeedRecord{}, false
	}

	return model.SpeedRecord{
		ID:        id,
		Download:  parseSpeed(r.DL),
		Upload:    parseSpeed(r.UL),
		Shape:     geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(projection.GeographicSRID),
		ISPInfo:   r.ISPInfo,
		County:    r.County,
		Timestamp: r.Timestamp,
		Email:     r.Email,
		IP:        r.IP,
		Cost:      r.Cost,
		ASN:       r.ASN,
		Coop:      r.Coop,
		Tribal:    r.Tribal,
		WouldPay:  r.WouldPay,
		BlockID:   r.BlockID,
		MNC:       r.MNC,
		MCC:       r.MCC,
		Repeats:   r.Repeats,
	}, true
}

// parseSpeed returns NaN for missing or malformed speed values so the
// classifier resolves them to not-applicable.
func parseSpeed(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
