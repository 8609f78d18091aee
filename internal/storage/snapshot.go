package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrSnapshotExists is returned when a snapshot file already exists.
var ErrSnapshotExists = errors.New("snapshot already exists")

// SnapshotInfo describes a database snapshot written to disk.
type SnapshotInfo struct {
	CreatedAt     time.Time
	Path          string
	Size          int64
	SchemaVersion int
}

// Snapshot writes a consistent copy of the database into dir, named after
// tag. The migrate command takes one before applying schema changes.
func (s *SQLiteStorage) Snapshot(ctx context.Context, dir, tag string) (*SnapshotInfo, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if s.dbPath == ":memory:" {
		return nil, fmt.Errorf("cannot snapshot an in-memory database")
	}
	if tag == "" {
		tag = "snapshot-" + time.Now().Format("2006-01-02-150405")
	}
	if strings.ContainsAny(tag, `/\'";`) || strings.Contains(tag, "..") {
		return nil, fmt.Errorf("invalid snapshot tag %q", tag)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	dest, err := filepath.Abs(filepath.Join(dir, tag+".db"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve snapshot path: %w", err)
	}
	if strings.ContainsAny(dest, `'";`) {
		return nil, fmt.Errorf("invalid snapshot path %q", dest)
	}
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("%s: %w", dest, ErrSnapshotExists)
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	// #nosec G201 - dest is validated above
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}

	st, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	return &SnapshotInfo{
		Path:          dest,
		Size:          st.Size(),
		SchemaVersion: version,
		CreatedAt:     time.Now(),
	}, nil
}
