// Package pipeline orchestrates one data refresh: pull submissions,
// classify and anonymize new points, upload them, and recompute the county
// response rates.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/agrc/broadband-speedtest-skid/internal/bucket"
	"github.com/agrc/broadband-speedtest-skid/internal/classify"
	"github.com/agrc/broadband-speedtest-skid/internal/config"
	"github.com/agrc/broadband-speedtest-skid/internal/county"
	"github.com/agrc/broadband-speedtest-skid/internal/jitter"
	"github.com/agrc/broadband-speedtest-skid/internal/model"
	"github.com/agrc/broadband-speedtest-skid/internal/projection"
	"github.com/agrc/broadband-speedtest-skid/internal/store"
	"github.com/agrc/broadband-speedtest-skid/pkg/featurelayer"
)

// SpeedtestSource pulls submitted speedtest records.
type SpeedtestSource interface {
	Fetch(ctx context.Context, state, recordFlag string) ([]model.SpeedRecord, error)
}

// CensusSource pulls the raw household reference payload.
type CensusSource interface {
	Fetch(ctx context.Context) ([][]string, error)
}

// FeatureService is the slice of the hosted feature service the pipeline
// needs.
type FeatureService interface {
	QueryAll(ctx context.Context, layerURL, outFields string) ([]featurelayer.Feature, error)
	AddFeatures(ctx context.Context, layerURL string, features []featurelayer.Feature) (int, error)
	UpdateFeatures(ctx context.Context, layerURL string, features []featurelayer.Feature, updateGeometry bool) (int, error)
}

// Notifier sends the end-of-run summary.
type Notifier interface {
	Send(ctx context.Context, subject, body, attachmentPath string) error
}

// Pipeline wires the refresh steps together. Construct with New and run
// once per invocation; there is no rollback on partial failure, so a run
// that dies after the point upload leaves the county layer stale until the
// next run.
type Pipeline struct {
	cfg         *config.Config
	speedtest   SpeedtestSource
	census      CensusSource
	features    FeatureService
	notifier    Notifier
	transformer projection.Transformer
	jitterer    *jitter.Engine
	store       store.Store
	clock       clockwork.Clock
	logger      *zap.Logger
}

// New creates a Pipeline. A nil clock falls back to the real clock.
func New(
	cfg *config.Config,
	speedtest SpeedtestSource,
	census CensusSource,
	features FeatureService,
	notifier Notifier,
	transformer projection.Transformer,
	jitterer *jitter.Engine,
	runStore store.Store,
	clock clockwork.Clock,
	logger *zap.Logger,
) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:         cfg,
		speedtest:   speedtest,
		census:      census,
		features:    features,
		notifier:    notifier,
		transformer: transformer,
		jitterer:    jitterer,
		store:       runStore,
		clock:       clock,
		logger:      logger,
	}
}

// Run executes one refresh end to end. The returned Run is also persisted
// to the store, and the summary email is sent on both success and failure.
func (p *Pipeline) Run(ctx context.Context) (*model.Run, error) {
	run := model.Run{
		ID:        uuid.New().String(),
		StartedAt: p.clock.Now().UTC(),
	}

	tempDir, err := os.MkdirTemp("", p.cfg.Skid.Name)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create temp dir")
	}
	defer os.RemoveAll(tempDir)

	logPath := filepath.Join(tempDir, "run.log")
	logger, closeLog, err := config.NewRunLogger(p.logger, logPath)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: run logger")
	}

	logger.Info("run started", zap.String("run_id", run.ID), zap.String("skid", p.cfg.Skid.Name))

	runErr := p.execute(ctx, logger, &run)

	run.FinishedAt = p.clock.Now().UTC()
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
		logger.Error("run failed", zap.Error(runErr))
	} else {
		run.Status = model.RunStatusSucceeded
		logger.Info("run finished",
			zap.Int("points_added", run.PointsAdded),
			zap.Int("counties_updated", run.CountiesUpdated),
			zap.Duration("duration", run.Duration()),
		)
	}

	if err := closeLog(); err != nil {
		logger.Warn("close run log", zap.Error(err))
	}

	if err := p.notifier.Send(ctx, p.subject(run), p.summary(run), logPath); err != nil {
		p.logger.Error("pipeline: send notification", zap.Error(err))
	}

	if p.store != nil {
		if _, err := p.store.RecordRun(ctx, run); err != nil {
			p.logger.Error("pipeline: record run", zap.Error(err))
		}
	}

	if runErr != nil {
		return &run, eris.Wrap(runErr, "pipeline: run")
	}
	return &run, nil
}

// execute performs the data work and fills in the run counters. Every
// failure is fatal for the run.
func (p *Pipeline) execute(ctx context.Context, logger *zap.Logger, run *model.Run) error {
	liveIDs, err := p.liveIDs(ctx)
	if err != nil {
		return err
	}
	logger.Info("queried live points", zap.Int("count", len(liveIDs)))

	records, err := p.speedtest.Fetch(ctx, p.cfg.Speedtest.State, p.cfg.Speedtest.Record)
	if err != nil {
		return err
	}

	records = RemoveInstitutions(records, p.cfg.Skid.InstitutionsToRemove)
	classify.Records(records)

	newRecords := diffNew(records, liveIDs)
	logger.Info("diffed submissions",
		zap.Int("fetched", len(records)),
		zap.Int("new", len(newRecords)),
	)

	if err := p.anonymize(newRecords); err != nil {
		return err
	}

	added, err := p.features.AddFeatures(ctx, p.cfg.AGOL.PointsLayerURL, buildPointFeatures(newRecords))
	if err != nil {
		return err
	}
	run.PointsAdded = added
	logger.Info("uploaded points", zap.Int("added", added))

	updated, err := p.refreshCounties(ctx, logger, records)
	if err != nil {
		return err
	}
	run.CountiesUpdated = updated
	logger.Info("updated county summaries", zap.Int("updated", updated))

	return nil
}

// liveIDs reads the ids already present in the points layer so resubmitted
// exports don't duplicate rows.
func (p *Pipeline) liveIDs(ctx context.Context) (map[int64]struct{}, error) {
	features, err := p.features.QueryAll(ctx, p.cfg.AGOL.PointsLayerURL, "id")
	if err != nil {
		return nil, err
	}

	ids := make(map[int64]struct{}, len(features))
	for _, f := range features {
		id, ok := attributeInt64(f.Attributes, "id")
		if !ok {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}

// anonymize reprojects new points to meters, jitters them bucket by bucket,
// and reprojects back. Records sharing a fine-resolution spatial key get
// one shared offset so a cluster cannot be averaged back to its source.
func (p *Pipeline) anonymize(records []model.SpeedRecord) error {
	for i := range records {
		projected, err := p.transformer.ToProjected(records[i].Shape)
		if err != nil {
			return eris.Wrapf(err, "pipeline: project record %d", records[i].ID)
		}
		records[i].Shape = projected
	}

	groupRange := jitter.Range{Min: p.cfg.Jitter.GroupMin, Max: p.cfg.Jitter.GroupMax}
	individualRange := jitter.Range{Min: p.cfg.Jitter.IndividualMin, Max: p.cfg.Jitter.IndividualMax}

	for _, group := range bucket.GroupByKey(records, bucket.GroupResolution) {
		points := make([]*geom.Point, 0, len(group.Indexes))
		for _, idx := range group.Indexes {
			points = append(points, records[idx].Shape)
		}

		jittered, err := p.jitterer.JitterGroup(points, groupRange, individualRange)
		if err != nil {
			return eris.Wrap(err, "pipeline: jitter group")
		}
		for j, idx := range group.Indexes {
			records[idx].Shape = jittered[j]
		}
	}

	for i := range records {
		geographic, err := p.transformer.ToGeographic(records[i].Shape)
		if err != nil {
			return eris.Wrapf(err, "pipeline: unproject record %d", records[i].ID)
		}
		records[i].Shape = geographic
	}
	return nil
}

// refreshCounties recomputes the response rate per county from the full
// institution-filtered fetch and pushes attribute updates to the county
// layer.
func (p *Pipeline) refreshCounties(ctx context.Context, logger *zap.Logger, records []model.SpeedRecord) (int, error) {
	raw, err := p.census.Fetch(ctx)
	if err != nil {
		return 0, err
	}

	reference, err := county.NormalizeReference(raw)
	if err != nil {
		return 0, err
	}

	summaries, err := county.Summarize(reference, records, logger)
	if err != nil {
		return 0, err
	}

	liveFeatures, err := p.features.QueryAll(ctx, p.cfg.AGOL.CountyLayerURL, "*")
	if err != nil {
		return 0, err
	}
	live := parseLiveCounties(liveFeatures)

	merged := county.MergeLive(live, summaries)
	return p.features.UpdateFeatures(ctx, p.cfg.AGOL.CountyLayerURL, buildCountyFeatures(merged), false)
}

func (p *Pipeline) subject(run model.Run) string {
	return fmt.Sprintf("%s: run %s", p.cfg.Skid.Name, run.Status)
}

func (p *Pipeline) summary(run model.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s %s\n\n", run.ID, run.Status)
	fmt.Fprintf(&b, "started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "finished: %s\n", run.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "duration: %s\n\n", run.Duration().Round(time.Second))
	fmt.Fprintf(&b, "points added:     %d\n", run.PointsAdded)
	fmt.Fprintf(&b, "counties updated: %d\n", run.CountiesUpdated)
	if run.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s\n", run.Error)
	}
	return b.String()
}

// RemoveInstitutions drops records submitted from known institutional
// connections; campus backbones would otherwise dominate their county.
func RemoveInstitutions(records []model.SpeedRecord, institutions []string) []model.SpeedRecord {
	if len(institutions) == 0 {
		return records
	}
	blocked := make(map[string]struct{}, len(institutions))
	for _, inst := range institutions {
		blocked[inst] = struct{}{}
	}

	kept := records[:0:0]
	for _, r := range records {
		if _, drop := blocked[r.ISPInfo]; drop {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// diffNew keeps only records whose id is not already uploaded, preserving
// order.
func diffNew(records []model.SpeedRecord, liveIDs map[int64]struct{}) []model.SpeedRecord {
	var fresh []model.SpeedRecord
	for _, r := range records {
		if _, seen := liveIDs[r.ID]; seen {
			continue
		}
		fresh = append(fresh, r)
	}
	return fresh
}

// buildPointFeatures converts anonymized records into upload rows. The
// submitter-identifying fields and the grouping key never leave the
// process; coarser spatial keys are published for map aggregation, and the
// numeric census/carrier columns are published as floats.
func buildPointFeatures(records []model.SpeedRecord) []featurelayer.Feature {
	features := make([]featurelayer.Feature, 0, len(records))
	for _, r := range records {
		attrs := map[string]any{
			"id":             float64(r.ID),
			"ispinfo":        r.ISPInfo,
			"county":         r.County,
			"timestamp":      r.Timestamp,
			"classification": r.Classification,
		}
		attrs["dl"] = nanToNil(r.Download)
		attrs["ul"] = nanToNil(r.Upload)
		attrs["blockid"] = floatOrNil(r.BlockID)
		attrs["mnc"] = floatOrNil(r.MNC)
		attrs["mcc"] = floatOrNil(r.MCC)
		attrs["repeats"] = floatOrNil(r.Repeats)
		for _, res := range []int{5, 6, 7, 8, 9} {
			if key, ok := r.H3Keys[res]; ok {
				attrs[fmt.Sprintf("h3_%d", res)] = key
			}
		}

		features = append(features, featurelayer.Feature{
			Geometry: &featurelayer.Geometry{
				X:                r.Shape.X(),
				Y:                r.Shape.Y(),
				SpatialReference: featurelayer.SpatialReference{WKID: projection.GeographicSRID},
			},
			Attributes: attrs,
		})
	}
	return features
}

// buildCountyFeatures converts merged county rows into attribute-only
// update rows keyed by object id.
func buildCountyFeatures(merged []model.LiveCounty) []featurelayer.Feature {
	features := make([]featurelayer.Feature, 0, len(merged))
	for _, row := range merged {
		features = append(features, featurelayer.Feature{
			Attributes: map[string]any{
				"objectid":         row.ObjectID,
				"name":             row.Name,
				"tests":            row.Tests,
				"total_households": row.TotalHouseholds,
				"percent_response": row.PercentResponse,
			},
		})
	}
	return features
}

// parseLiveCounties reads the county layer rows back into typed records.
func parseLiveCounties(features []featurelayer.Feature) []model.LiveCounty {
	live := make([]model.LiveCounty, 0, len(features))
	for _, f := range features {
		objectID, ok := attributeInt64(f.Attributes, "objectid")
		if !ok {
			continue
		}
		name, _ := f.Attributes["name"].(string)
		tests, _ := attributeInt64(f.Attributes, "tests")
		households, _ := attributeInt64(f.Attributes, "total_households")
		percent, _ := f.Attributes["percent_response"].(float64)

		live = append(live, model.LiveCounty{
			ObjectID:        objectID,
			Name:            name,
			Tests:           int(tests),
			TotalHouseholds: int(households),
			PercentResponse: percent,
		})
	}
	return live
}

// attributeInt64 reads a numeric attribute that JSON decoding may have
// produced as float64.
func attributeInt64(attrs map[string]any, key string) (int64, bool) {
	switch v := attrs[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// nanToNil maps a missing speed to a JSON null; NaN is not representable.
func nanToNil(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// floatOrNil parses a numeric source column for upload; missing or
// malformed values become JSON nulls.
func floatOrNil(s string) any {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return v
}
