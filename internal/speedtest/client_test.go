package speedtest

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agrc/broadband-speedtest-skid/internal/fetcher"
)

type stubKeyer struct{}

func (stubKeyer) Key(lon, lat float64, res int) string {
	return fmt.Sprintf("%d|%.4f|%.4f", res, lon, lat)
}

// The source wraps values across lines; the client must flatten before
// parsing.
const samplePayload = `<rows>
<row><id>101</id><dl>150.5</dl><ul>25</ul>
<longitude>-111.89</longitude><latitude>40.76</latitude>
<ispinfo>Example ISP</ispinfo><county>Weber County</county>
<timestamp>2024-01-15 08:30:00</timestamp>
<email>user@example.com</email><ip>10.0.0.1</ip></row>
<row><id>102</id><dl></dl><ul>bad</ul>
<longitude>-112.50</longitude><latitude>41.10</latitude>
<county>Box Elder County</county></row>
<row><id>nope</id><longitude>-111</longitude><latitude>40</latitude></row>
<row><id>104</id><dl>5</dl><ul>1</ul><longitude></longitude><latitude></latitude></row>
</rows>`

func TestFetch(t *testing.T) {
	var gotState, gotRecord string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotState = r.URL.Query().Get("state")
		gotRecord = r.URL.Query().Get("record")
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	client := New(srv.URL, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), stubKeyer{}, []int{5, 12}, zap.NewNop())
	records, err := client.Fetch(context.Background(), "Utah", "0")
	require.NoError(t, err)

	assert.Equal(t, "Utah", gotState)
	assert.Equal(t, "0", gotRecord)

	// Rows with a bad id or no location are skipped.
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, int64(101), first.ID)
	assert.Equal(t, 150.5, first.Download)
	assert.Equal(t, 25.0, first.Upload)
	assert.Equal(t, "Example ISP", first.ISPInfo)
	assert.Equal(t, "Weber County", first.County)
	assert.Equal(t, "user@example.com", first.Email)
	require.NotNil(t, first.Shape)
	assert.Equal(t, 4326, first.Shape.SRID())
	assert.InDelta(t, -111.89, first.Shape.X(), 1e-9)
	assert.InDelta(t, 40.76, first.Shape.Y(), 1e-9)
	require.Len(t, first.H3Keys, 2)
	assert.NotEmpty(t, first.H3Keys[12])

	// Missing and malformed speeds degrade to NaN, not errors.
	second := records[1]
	assert.Equal(t, int64(102), second.ID)
	assert.True(t, math.IsNaN(second.Download))
	assert.True(t, math.IsNaN(second.Upload))
}

func TestFetchSourceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(srv.URL, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), stubKeyer{}, []int{12}, zap.NewNop())
	_, err := client.Fetch(context.Background(), "Utah", "0")
	assert.Error(t, err)
}

func TestFetchMalformedXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<rows><row><id>1</id>"))
	}))
	defer srv.Close()

	client := New(srv.URL, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), stubKeyer{}, []int{12}, zap.NewNop())
	_, err := client.Fetch(context.Background(), "Utah", "0")
	assert.Error(t, err)
}
