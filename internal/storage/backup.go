package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrBackupUnsupported is returned for drivers that manage their own
// durability (postgres).
var ErrBackupUnsupported = errors.New("backup not supported for this driver")

// Backup writes a consistent copy of the sqlite database into dir, named by
// timestamp. VACUUM INTO is used instead of a file copy so a WAL that has
// not checkpointed yet cannot produce a torn backup.
func (s *Store) Backup(ctx context.Context, dir string) (string, error) {
	if s.postgres {
		return "", ErrBackupUnsupported
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("data-%s.db", time.Now().Format("02-01-2006-15-04"))
	dst := filepath.Join(dir, name)
	if _, err := os.Stat(dst); err == nil {
		// Same-minute rerun; nothing to do.
		return dst, nil
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dst); err != nil {
		return "", err
	}
	return dst, nil
}
