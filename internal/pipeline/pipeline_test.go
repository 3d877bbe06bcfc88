package pipeline

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/agrc/broadband-speedtest-skid/internal/config"
	"github.com/agrc/broadband-speedtest-skid/internal/jitter"
	"github.com/agrc/broadband-speedtest-skid/internal/model"
	"github.com/agrc/broadband-speedtest-skid/internal/projection"
	"github.com/agrc/broadband-speedtest-skid/pkg/featurelayer"
)

// fakeTransformer flips SRIDs without moving coordinates so geometry
// assertions stay simple.
type fakeTransformer struct{}

func (fakeTransformer) ToProjected(p *geom.Point) (*geom.Point, error) {
	if p.SRID() != projection.GeographicSRID {
		return nil, eris.New("not geographic")
	}
	return geom.NewPointFlat(geom.XY, []float64{p.X(), p.Y()}).SetSRID(projection.ProjectedSRID), nil
}

func (fakeTransformer) ToGeographic(p *geom.Point) (*geom.Point, error) {
	if p.SRID() != projection.ProjectedSRID {
		return nil, eris.New("not projected")
	}
	return geom.NewPointFlat(geom.XY, []float64{p.X(), p.Y()}).SetSRID(projection.GeographicSRID), nil
}

type fakeSpeedtest struct {
	records []model.SpeedRecord
	err     error
}

func (f *fakeSpeedtest) Fetch(_ context.Context, _, _ string) ([]model.SpeedRecord, error) {
	return f.records, f.err
}

type fakeCensus struct {
	rows [][]string
	err  error
}

func (f *fakeCensus) Fetch(_ context.Context) ([][]string, error) {
	return f.rows, f.err
}

type fakeFeatures struct {
	pointIDs     []float64
	liveCounties []featurelayer.Feature

	added   []featurelayer.Feature
	updated []featurelayer.Feature
}

func (f *fakeFeatures) QueryAll(_ context.Context, layerURL, _ string) ([]featurelayer.Feature, error) {
	if layerURL == "https://host/points" {
		features := make([]featurelayer.Feature, 0, len(f.pointIDs))
		for _, id := range f.pointIDs {
			features = append(features, featurelayer.Feature{Attributes: map[string]any{"id": id}})
		}
		return features, nil
	}
	return f.liveCounties, nil
}

func (f *fakeFeatures) AddFeatures(_ context.Context, _ string, features []featurelayer.Feature) (int, error) {
	f.added = features
	return len(features), nil
}

func (f *fakeFeatures) UpdateFeatures(_ context.Context, _ string, features []featurelayer.Feature, updateGeometry bool) (int, error) {
	if updateGeometry {
		return 0, eris.New("county updates must not touch geometry")
	}
	f.updated = features
	return len(features), nil
}

type fakeNotifier struct {
	subject    string
	body       string
	attachment string
	sent       int
}

func (f *fakeNotifier) Send(_ context.Context, subject, body, attachmentPath string) error {
	f.subject = subject
	f.body = body
	f.attachment = attachmentPath
	f.sent++
	return nil
}

type memStore struct {
	runs []model.Run
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) RecordRun(_ context.Context, run model.Run) (string, error) {
	m.runs = append(m.runs, run)
	return run.ID, nil
}
func (m *memStore) GetRun(context.Context, string) (*model.Run, error) { return nil, nil }
func (m *memStore) ListRuns(context.Context, int) ([]model.Run, error) { return m.runs, nil }
func (m *memStore) Close() error                                       { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Skid: config.SkidConfig{
			Name:                 "broadband-speedtest",
			InstitutionsToRemove: []string{"Utah Education Network"},
		},
		Speedtest: config.SpeedtestConfig{State: "utah", Record: "all"},
		AGOL: config.AGOLConfig{
			PointsLayerURL: "https://host/points",
			CountyLayerURL: "https://host/counties",
		},
		Jitter: config.JitterConfig{GroupMin: 0, GroupMax: 0, IndividualMin: 0, IndividualMax: 0},
	}
}

func record(id int64, dl, ul float64, isp, countyName string, lon, lat float64) model.SpeedRecord {
	return model.SpeedRecord{
		ID:       id,
		Download: dl,
		Upload:   ul,
		ISPInfo:  isp,
		County:   countyName,
		Shape:    geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(projection.GeographicSRID),
		H3Keys:   map[int]string{5: "k5", 12: "k12"},
		Email:    "person@example.com",
		IP:       "10.0.0.1",
		BlockID:  "490111001001",
		MNC:      "260",
		MCC:      "310",
		Repeats:  "2",
	}
}

func censusRows() [][]string {
	return [][]string{
		{"DP02_0001E", "NAME", "state", "county"},
		{"87802", "Weber County, Utah", "49", "057"},
		{"205426", "Utah County, Utah", "49", "049"},
	}
}

func newTestPipeline(st *fakeSpeedtest, features *fakeFeatures, notifier *fakeNotifier, runs *memStore) *Pipeline {
	return New(
		testConfig(),
		st,
		&fakeCensus{rows: censusRows()},
		features,
		notifier,
		fakeTransformer{},
		jitter.New(nil),
		runs,
		clockwork.NewFakeClock(),
		zap.NewNop(),
	)
}

func TestRunUploadsNewPointsOnly(t *testing.T) {
	features := &fakeFeatures{
		pointIDs: []float64{1},
		liveCounties: []featurelayer.Feature{
			{Attributes: map[string]any{"objectid": 7.0, "name": "Weber County", "tests": 1.0, "total_households": 87802.0, "percent_response": 0.0001}},
		},
	}
	notifier := &fakeNotifier{}
	runs := &memStore{}
	p := newTestPipeline(&fakeSpeedtest{records: []model.SpeedRecord{
		record(1, 120, 25, "Comcast", "Weber County", -111.9, 41.2),
		record(2, 10, 1, "Comcast", "Weber County", -111.9, 41.2),
		record(3, 50, 50, "Utah Education Network", "Weber County", -111.8, 41.1),
	}}, features, notifier, runs)

	run, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusSucceeded, run.Status)
	assert.Equal(t, 1, run.PointsAdded, "id 1 is live, id 3 is institutional")
	require.Len(t, features.added, 1)

	attrs := features.added[0].Attributes
	assert.Equal(t, float64(2), attrs["id"])
	assert.Equal(t, model.TierUnder25_3, attrs["classification"])
	assert.Equal(t, "k5", attrs["h3_5"])
	assert.NotContains(t, attrs, "h3_12")
	assert.NotContains(t, attrs, "email")
	assert.NotContains(t, attrs, "ip")
	assert.Equal(t, 490111001001.0, attrs["blockid"])
	assert.Equal(t, 260.0, attrs["mnc"])
	assert.Equal(t, 310.0, attrs["mcc"])
	assert.Equal(t, 2.0, attrs["repeats"])
	require.NotNil(t, features.added[0].Geometry)
	assert.Equal(t, projection.GeographicSRID, features.added[0].Geometry.SpatialReference.WKID)
	assert.InDelta(t, -111.9, features.added[0].Geometry.X, 0.001, "zero jitter ranges leave coordinates in place")
}

func TestRunUpdatesCounties(t *testing.T) {
	features := &fakeFeatures{
		liveCounties: []featurelayer.Feature{
			{Attributes: map[string]any{"objectid": 7.0, "name": "Weber County", "tests": 0.0, "total_households": 0.0, "percent_response": 0.0}},
			{Attributes: map[string]any{"objectid": 8.0, "name": "Utah County", "tests": 0.0, "total_households": 0.0, "percent_response": 0.0}},
		},
	}
	notifier := &fakeNotifier{}
	p := newTestPipeline(&fakeSpeedtest{records: []model.SpeedRecord{
		record(1, 120, 25, "Comcast", "Weber County", -111.9, 41.2),
		record(2, 10, 1, "CenturyLink", "Weber County", -111.9, 41.2),
	}}, features, notifier, &memStore{})

	run, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.CountiesUpdated, "Utah County has no tests, so only Weber updates")
	require.Len(t, features.updated, 1)
	attrs := features.updated[0].Attributes
	assert.Equal(t, int64(7), attrs["objectid"])
	assert.Equal(t, 2, attrs["tests"])
	assert.Equal(t, 87802, attrs["total_households"])
	assert.InDelta(t, 2.0/87802.0, attrs["percent_response"].(float64), 1e-12)
	assert.Nil(t, features.updated[0].Geometry)
}

func TestRunCountsInstitutionFilteredRecordsOut(t *testing.T) {
	features := &fakeFeatures{
		liveCounties: []featurelayer.Feature{
			{Attributes: map[string]any{"objectid": 7.0, "name": "Weber County"}},
		},
	}
	p := newTestPipeline(&fakeSpeedtest{records: []model.SpeedRecord{
		record(1, 50, 5, "Utah Education Network", "Weber County", -111.9, 41.2),
	}}, features, &fakeNotifier{}, &memStore{})

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, run.PointsAdded)
	assert.Zero(t, run.CountiesUpdated)
}

func TestRunFailureIsRecordedAndNotified(t *testing.T) {
	notifier := &fakeNotifier{}
	runs := &memStore{}
	p := newTestPipeline(&fakeSpeedtest{err: eris.New("status 503")}, &fakeFeatures{}, notifier, runs)

	run, err := p.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "503")
	assert.Equal(t, 1, notifier.sent)
	assert.Contains(t, notifier.subject, "failed")
	assert.Contains(t, notifier.body, "503")
	require.Len(t, runs.runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs.runs[0].Status)
}

func TestRunSummaryAndAttachment(t *testing.T) {
	features := &fakeFeatures{}
	notifier := &fakeNotifier{}
	runs := &memStore{}
	p := newTestPipeline(&fakeSpeedtest{records: []model.SpeedRecord{
		record(1, 120, 25, "Comcast", "Weber County", -111.9, 41.2),
	}}, features, notifier, runs)

	run, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "broadband-speedtest: run succeeded", notifier.subject)
	assert.Contains(t, notifier.body, run.ID)
	assert.Contains(t, notifier.body, "points added:     1")
	assert.NotEmpty(t, notifier.attachment)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, run.ID, runs.runs[0].ID)
}

func TestRemoveInstitutionsKeepsOrder(t *testing.T) {
	records := []model.SpeedRecord{
		{ID: 1, ISPInfo: "Comcast"},
		{ID: 2, ISPInfo: "Utah Education Network"},
		{ID: 3, ISPInfo: "CenturyLink"},
	}
	kept := RemoveInstitutions(records, []string{"Utah Education Network"})
	require.Len(t, kept, 2)
	assert.Equal(t, int64(1), kept[0].ID)
	assert.Equal(t, int64(3), kept[1].ID)

	assert.Len(t, RemoveInstitutions(records, nil), 3)
}

func TestBuildPointFeaturesNumericColumns(t *testing.T) {
	r := record(9, 50, 10, "Comcast", "Weber County", -111.9, 41.2)
	r.MNC = "not-a-number"
	r.Repeats = ""

	features := buildPointFeatures([]model.SpeedRecord{r})
	require.Len(t, features, 1)

	attrs := features[0].Attributes
	assert.Equal(t, 490111001001.0, attrs["blockid"])
	assert.Nil(t, attrs["mnc"])
	assert.Nil(t, attrs["repeats"])
	assert.Equal(t, 310.0, attrs["mcc"])
}

func TestDiffNew(t *testing.T) {
	records := []model.SpeedRecord{{ID: 1}, {ID: 2}, {ID: 3}}
	fresh := diffNew(records, map[int64]struct{}{2: {}})
	require.Len(t, fresh, 2)
	assert.Equal(t, int64(1), fresh[0].ID)
	assert.Equal(t, int64(3), fresh[1].ID)
}
