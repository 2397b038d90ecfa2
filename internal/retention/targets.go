package retention

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/wpsave/wpsave/internal/types"
)

// LogDirTarget sweeps session log files from a local directory. Only regular
// files with a .log extension are considered; the directory itself and
// anything else in it is left alone. A missing directory lists as empty.
type LogDirTarget struct {
	dir string
}

// NewLogDirTarget creates a target over the given log directory.
func NewLogDirTarget(dir string) *LogDirTarget {
	return &LogDirTarget{dir: dir}
}

// Name returns the target description for sweep logging.
func (t *LogDirTarget) Name() string {
	return "local logs (" + t.dir + ")"
}

// List enumerates the log files in the directory with their modification
// times.
func (t *LogDirTarget) List(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var items []Item
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, Item{
			ID:      filepath.Join(t.dir, entry.Name()),
			Name:    entry.Name(),
			Created: info.ModTime(),
		})
	}
	return items, nil
}

// Remove deletes the log file. A file already gone is not an error.
func (t *LogDirTarget) Remove(ctx context.Context, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(item.ID); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ArtifactStore is the slice of the remote storage client the sweeper needs.
type ArtifactStore interface {
	ListArtifacts(ctx context.Context) ([]types.RemoteArtifact, error)
	DeleteArtifact(ctx context.Context, id string) error
}

// RemoteTarget sweeps backup artifacts from the remote provider.
type RemoteTarget struct {
	store ArtifactStore
}

// NewRemoteTarget creates a target over the remote artifact store.
func NewRemoteTarget(store ArtifactStore) *RemoteTarget {
	return &RemoteTarget{store: store}
}

// Name returns the target description for sweep logging.
func (t *RemoteTarget) Name() string {
	return "remote artifacts"
}

// List enumerates the artifacts in the destination folder.
func (t *RemoteTarget) List(ctx context.Context) ([]Item, error) {
	artifacts, err := t.store.ListArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(artifacts))
	for _, a := range artifacts {
		items = append(items, Item{ID: a.ID, Name: a.Name, Created: a.Created})
	}
	return items, nil
}

// Remove deletes the remote artifact.
func (t *RemoteTarget) Remove(ctx context.Context, item Item) error {
	return t.store.DeleteArtifact(ctx, item.ID)
}
