package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassista/go_reel/internal/repository"
)

// mockSaver implements repository.Saver for testing
type mockSaver struct {
	mu        sync.Mutex
	savedDocs []*repository.DataDocument
	saveErr   error
	onSave    func()
}

func (m *mockSaver) Save(_ context.Context, doc *repository.DataDocument) error {
	if m.onSave != nil {
		m.onSave()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.savedDocs = append(m.savedDocs, doc)
	return nil
}

func (m *mockSaver) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.savedDocs)
}

func (m *mockSaver) Last() *repository.DataDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.savedDocs) == 0 {
		return nil
	}
	return m.savedDocs[len(m.savedDocs)-1]
}

func TestFlush_PersistsDirtyLedger(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _, err := l.Download(context.Background(), 42, repository.QualityBetter)
	require.NoError(t, err)

	saver := &mockSaver{}
	Flush(context.Background(), l, saver)

	require.Equal(t, 1, saver.Count())
	assert.Len(t, saver.Last().Downloads, 1)
	assert.NotZero(t, saver.Last().Metadata.LastUpdate)
	assert.Equal(t, saver.Last().Metadata.LastUpdate, l.GetLastUpdate())
	assert.False(t, l.IsDirty())
}

func TestFlush_CleanLedgerSkips(t *testing.T) {
	l, _ := newTestLedger(t)
	saver := &mockSaver{}
	Flush(context.Background(), l, saver)
	assert.Zero(t, saver.Count())
}

func TestFlush_SaveErrorKeepsDirty(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _, _ = l.Download(context.Background(), 42, repository.QualityBetter)

	Flush(context.Background(), l, &mockSaver{saveErr: errors.New("disk full")})
	assert.True(t, l.IsDirty())
}

func TestFlush_ChangeDuringSaveKeepsDirty(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _, _ = l.Download(context.Background(), 42, repository.QualityBetter)

	saver := &mockSaver{onSave: func() {
		require.NoError(t, l.SetProgress(context.Background(), 42, 10))
	}}
	Flush(context.Background(), l, saver)

	assert.Equal(t, 1, saver.Count())
	assert.True(t, l.IsDirty(), "the progress update is not in the saved snapshot")
}

func TestStartMaintenance_PeriodicFlush(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _, _ = l.Download(context.Background(), 42, repository.QualityBetter)

	saver := &mockSaver{}
	ctx, cancel := context.WithCancel(context.Background())
	done := StartMaintenance(ctx, l, saver, 20*time.Millisecond, time.Hour)

	assert.Eventually(t, func() bool { return saver.Count() >= 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.False(t, l.IsDirty())
}

func TestStartMaintenance_FinalFlushOnShutdown(t *testing.T) {
	l, _ := newTestLedger(t)
	saver := &mockSaver{}
	ctx, cancel := context.WithCancel(context.Background())
	done := StartMaintenance(ctx, l, saver, time.Hour, time.Hour)

	_, _, _ = l.Download(context.Background(), 42, repository.QualityBetter)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintenance did not stop")
	}
	assert.Equal(t, 1, saver.Count())
}

func TestStartMaintenance_PeriodicSweep(t *testing.T) {
	l, sender := newTestLedger(t)
	_, _, _ = l.Download(context.Background(), 42, repository.QualityBetter)
	require.NoError(t, l.SetProgress(context.Background(), 42, 100))

	// enable without the settings path so only the ticker can sweep
	l.mu.Lock()
	l.data.Settings.AutoDelete = true
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := StartMaintenance(ctx, l, &mockSaver{}, time.Hour, 20*time.Millisecond)
	defer func() {
		cancel()
		<-done
	}()

	assert.Eventually(t, func() bool { return len(l.Downloads()) == 0 }, time.Second, 10*time.Millisecond)
	assert.Len(t, sender.messages(), 2)
}

func TestFlush_RoundTripThroughJSONRepository(t *testing.T) {
	repo, err := repository.NewJSONRepository(t.TempDir() + "/reel.json")
	require.NoError(t, err)

	l, _ := newTestLedger(t)
	_, _, _ = l.Download(context.Background(), 42, repository.QualityBest)
	require.NoError(t, l.SetSettings(context.Background(), repository.Settings{Quality: repository.QualityGood}))
	Flush(context.Background(), l, repo)

	loaded, err := repo.Load(context.Background())
	require.NoError(t, err)
	restored := New(*loaded, DefaultOptions(), nil)
	assert.Equal(t, l.Downloads(), restored.Downloads())
	assert.Equal(t, repository.QualityGood, restored.Settings().Quality)
}
