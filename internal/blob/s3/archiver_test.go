package s3blob

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klashlabs/klash-engine/internal/domain"
	"github.com/klashlabs/klash-engine/internal/store/memory"
)

// captureWriter records every uploaded object in memory.
type captureWriter struct {
	paths        []string
	contentTypes []string
	bodies       []string
}

func (w *captureWriter) Put(ctx context.Context, path string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	w.paths = append(w.paths, path)
	w.contentTypes = append(w.contentTypes, contentType)
	w.bodies = append(w.bodies, string(data))
	return nil
}

func TestArchiveResolutions(t *testing.T) {
	ctx := context.Background()
	writer := &captureWriter{}
	resolutions := memory.NewResolutionStore()
	audit := memory.NewAuditStore()
	archiver := NewArchiver(writer, resolutions, audit)

	old := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, resolutions.Insert(ctx, domain.Resolution{
		MarketID:  "m1",
		Outcome:   0,
		Method:    domain.ResolutionMethodTeam,
		CreatedAt: old,
	}))
	require.NoError(t, resolutions.Insert(ctx, domain.Resolution{
		MarketID:  "m2",
		Outcome:   1,
		Method:    domain.ResolutionMethodManual,
		CreatedAt: old.Add(time.Hour),
	}))
	// Too recent to archive.
	require.NoError(t, resolutions.Insert(ctx, domain.Resolution{
		MarketID:  "m3",
		CreatedAt: time.Now().UTC(),
	}))

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	count, err := archiver.ArchiveResolutions(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.Len(t, writer.paths, 1)
	assert.Equal(t, "archive/resolutions/2026-08.jsonl", writer.paths[0])
	assert.Equal(t, "application/x-ndjson", writer.contentTypes[0])

	lines := strings.Split(strings.TrimRight(writer.bodies[0], "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"m1"`)
	assert.Contains(t, lines[1], `"m2"`)

	// The archival itself is recorded in the audit log.
	entries, err := audit.ListBefore(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.resolutions", entries[0].Event)
	assert.Equal(t, writer.paths[0], entries[0].Detail["path"])
	assert.Equal(t, int64(2), entries[0].Detail["count"])
}

func TestArchiveResolutionsEmpty(t *testing.T) {
	ctx := context.Background()
	writer := &captureWriter{}
	archiver := NewArchiver(writer, memory.NewResolutionStore(), memory.NewAuditStore())

	count, err := archiver.ArchiveResolutions(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.paths)
}

func TestArchiveAudit(t *testing.T) {
	ctx := context.Background()
	writer := &captureWriter{}
	audit := memory.NewAuditStore()
	archiver := NewArchiver(writer, memory.NewResolutionStore(), audit)

	require.NoError(t, audit.Log(ctx, "resolution.auto", map[string]any{"market_id": "m1"}))
	require.NoError(t, audit.Log(ctx, "resolution.manual", map[string]any{"market_id": "m2"}))

	cutoff := time.Now().UTC().Add(time.Minute)
	count, err := archiver.ArchiveAudit(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.Len(t, writer.paths, 1)
	assert.Equal(t, "archive/audit/"+cutoff.Format("2006-01")+".jsonl", writer.paths[0])

	lines := strings.Split(strings.TrimRight(writer.bodies[0], "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "resolution.auto")

	// Archiving the audit log must not write a fresh entry into it, or every
	// run would leave behind exactly what it just archived.
	entries, err := audit.ListBefore(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
