package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeArchiver records the cutoffs it was asked to archive before.
type fakeArchiver struct {
	mu             sync.Mutex
	resolutionCuts []time.Time
	auditCuts      []time.Time
	resolutionErr  error
	auditErr       error
}

func (f *fakeArchiver) ArchiveResolutions(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolutionCuts = append(f.resolutionCuts, before)
	return 3, f.resolutionErr
}

func (f *fakeArchiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditCuts = append(f.auditCuts, before)
	return 5, f.auditErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunUsesRetentionCutoff(t *testing.T) {
	archiver := &fakeArchiver{}
	runner := NewRunner(archiver, 30, testLogger())

	require.NoError(t, runner.Run(context.Background()))

	require.Len(t, archiver.resolutionCuts, 1)
	require.Len(t, archiver.auditCuts, 1)

	want := time.Now().UTC().Add(-30 * 24 * time.Hour)
	assert.WithinDuration(t, want, archiver.resolutionCuts[0], 5*time.Second)
	assert.Equal(t, archiver.resolutionCuts[0], archiver.auditCuts[0])
}

func TestRunDefaultsRetention(t *testing.T) {
	archiver := &fakeArchiver{}
	runner := NewRunner(archiver, 0, testLogger())

	require.NoError(t, runner.Run(context.Background()))

	want := time.Now().UTC().Add(-90 * 24 * time.Hour)
	assert.WithinDuration(t, want, archiver.resolutionCuts[0], 5*time.Second)
}

func TestRunStopsOnResolutionError(t *testing.T) {
	archiver := &fakeArchiver{resolutionErr: errors.New("bucket gone")}
	runner := NewRunner(archiver, 30, testLogger())

	err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")

	// The audit pass never ran.
	assert.Empty(t, archiver.auditCuts)
}

func TestRunLoopStopsOnContextCancel(t *testing.T) {
	archiver := &fakeArchiver{}
	runner := NewRunner(archiver, 30, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := runner.RunLoop(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	assert.NotEmpty(t, archiver.resolutionCuts)
}

func TestRunCronInvalidExpression(t *testing.T) {
	runner := NewRunner(&fakeArchiver{}, 30, testLogger())
	err := runner.RunCron(context.Background(), "not a cron")
	assert.Error(t, err)
}

func TestRunCronStopsOnContextCancel(t *testing.T) {
	runner := NewRunner(&fakeArchiver{}, 30, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runner.RunCron(ctx, "0 3 * * *")
	assert.ErrorIs(t, err, context.Canceled)
}
