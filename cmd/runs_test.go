package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agrc/broadband-speedtest-skid/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:              "0b7f9a2c-1111-2222-3333-444455556666",
			Status:          model.RunStatusSucceeded,
			StartedAt:       started,
			FinishedAt:      started.Add(90 * time.Second),
			PointsAdded:     42,
			CountiesUpdated: 7,
		},
		{
			ID:         "ffffffff-aaaa-bbbb-cccc-dddddddddddd",
			Status:     model.RunStatusFailed,
			StartedAt:  started,
			FinishedAt: started.Add(time.Second),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "0b7f9a2c")
	assert.NotContains(t, out, "0b7f9a2c-1111")
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "2026-03-01 04:00")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "42")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("123456789abc"))
	assert.Equal(t, "short", truncateID("short"))
}
