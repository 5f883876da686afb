package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmlinuzx/llmc-sub012/internal/config"
	"github.com/vmlinuzx/llmc-sub012/internal/embed"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/events"
	"github.com/vmlinuzx/llmc-sub012/internal/extract"
	"github.com/vmlinuzx/llmc-sub012/internal/scanner"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
	"github.com/vmlinuzx/llmc-sub012/internal/syncer"
)

type harness struct {
	root   string
	store  *store.Store
	daemon *Daemon
	events *recorder
}

type recorder struct {
	mu   sync.Mutex
	seen []events.Event
}

func (r *recorder) record(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, ev)
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.seen))
	for _, ev := range r.seen {
		out = append(out, ev.Type)
	}
	return out
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sc, err := scanner.New()
	require.NoError(t, err)
	ex := extract.NewSpanExtractor()
	t.Cleanup(func() { ex.Close() })
	sy := syncer.New(root, st, sc, ex)

	cfg := config.Default()
	cfg.Daemon.TickSeconds = 1
	cfg.Daemon.IdleBackoffBase = 1
	cfg.Daemon.IdleBackoffMax = 4
	cfg.Daemon.NiceLevel = 0
	cfg.Embeddings.Profiles = map[string]config.Profile{
		"code": {Provider: "static", Dim: 32},
	}

	embedSvc, err := embed.NewService(st, cfg.Embeddings)
	require.NoError(t, err)

	rec := &recorder{}
	bus := events.NewBus()
	bus.SubscribeAll(rec.record)

	return &harness{
		root:   root,
		store:  st,
		daemon: New(root, cfg, st, sy, nil, embedSvc, bus),
		events: rec,
	}
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(h.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const loginSrc = `def check_password(user, password):
    return user.hash == password


def login(user, password):
    if check_password(user, password):
        return "ok"
    return "denied"
`

func TestCycleIndexesEmbedsAndSnapshots(t *testing.T) {
	h := newHarness(t)
	h.write(t, "auth/login.py", loginSrc)
	ctx := context.Background()

	changed, err := h.daemon.runCycle(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	status, err := h.store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Contains(t, []store.IndexState{store.StateReady, store.StateWarn}, status.State)

	stats, err := h.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 2, stats.Embeddings["code"])

	types := h.events.types()
	assert.Contains(t, types, events.IndexUpdated)
	assert.Contains(t, types, events.EmbeddingCompleted)
	assert.Contains(t, types, events.HealthSnapshot)
}

func TestSnapshotFileIsReadableJSON(t *testing.T) {
	h := newHarness(t)
	h.write(t, "auth/login.py", loginSrc)
	ctx := context.Background()

	_, err := h.daemon.runCycle(ctx)
	require.NoError(t, err)

	raw, err := os.ReadFile(config.StatusPath(h.root))
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	require.NotNil(t, snap.Stats)
	assert.Equal(t, 2, snap.Stats.Spans)
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestSecondCycleReportsNoChange(t *testing.T) {
	h := newHarness(t)
	h.write(t, "auth/login.py", loginSrc)
	ctx := context.Background()

	changed, err := h.daemon.runCycle(ctx)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = h.daemon.runCycle(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRunRefusesWhenLockHeld(t *testing.T) {
	h := newHarness(t)

	lockPath := config.LockPath(h.root)
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	other := flock.New(lockPath)
	held, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, held)
	defer func() { _ = other.Unlock() }()

	err = h.daemon.Run(context.Background())
	require.Error(t, err)
	assert.True(t, llmcerr.IsKind(err, llmcerr.KindStoreBusy))
}

func TestRunStopsOnCancelAndReleasesLock(t *testing.T) {
	h := newHarness(t)
	h.write(t, "auth/login.py", loginSrc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.daemon.Run(ctx) }()

	// Let the first cycle land, then stop.
	time.Sleep(300 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}

	other := flock.New(config.LockPath(h.root))
	held, err := other.TryLock()
	require.NoError(t, err)
	assert.True(t, held)
	_ = other.Unlock()
}

func TestSleepWakesOnHint(t *testing.T) {
	h := newHarness(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		h.daemon.hint()
	}()

	start := time.Now()
	hinted := h.daemon.sleep(context.Background(), 30*time.Second)
	assert.True(t, hinted)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestSleepReturnsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	hinted := h.daemon.sleep(ctx, 30*time.Second)
	assert.False(t, hinted)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRelevantEventFiltersBookkeeping(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"source file write", fsnotify.Event{
			Name: filepath.Join(h.root, "auth", "login.py"), Op: fsnotify.Write}, true},
		{"git internals", fsnotify.Event{
			Name: filepath.Join(h.root, ".git", "index.lock"), Op: fsnotify.Create}, false},
		{"index directory", fsnotify.Event{
			Name: filepath.Join(h.root, ".llmc", "index.db-wal"), Op: fsnotify.Write}, false},
		{"node modules", fsnotify.Event{
			Name: filepath.Join(h.root, "node_modules", "left-pad", "index.js"), Op: fsnotify.Write}, false},
		{"chmod only", fsnotify.Event{
			Name: filepath.Join(h.root, "auth", "login.py"), Op: fsnotify.Chmod}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.daemon.relevantEvent(tt.ev))
		})
	}
}

func TestCycleFailsWhenStoreClosed(t *testing.T) {
	h := newHarness(t)
	h.write(t, "auth/login.py", loginSrc)
	ctx := context.Background()

	// Close the store underneath the daemon so the cycle fails.
	require.NoError(t, h.store.Close())
	_, err := h.daemon.runCycle(ctx)
	require.Error(t, err)
}
