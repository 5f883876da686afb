package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/vmlinuzx/llmc-sub012/internal/config"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

// Snapshot is the on-disk health file other processes read without
// touching the database.
type Snapshot struct {
	UpdatedAt time.Time          `json:"updated_at"`
	Status    *store.IndexStatus `json:"status"`
	Stats     *store.Stats       `json:"stats"`
	Health    *store.Health      `json:"health"`
}

// writeSnapshot gathers status, stats, and health and replaces the
// snapshot file atomically via temp-and-rename.
func (d *Daemon) writeSnapshot(ctx context.Context) (*Snapshot, error) {
	status, err := d.store.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	health, err := d.store.HealthCheck(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		UpdatedAt: time.Now().UTC(),
		Status:    status,
		Stats:     stats,
		Health:    health,
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "encode status snapshot", err)
	}

	path := config.StatusPath(d.root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "create status directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*")
	if err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "create status temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "write status snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "close status snapshot", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "publish status snapshot", err)
	}
	return snap, nil
}
