package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
)

const dirPerm = 0o755

// replaceFile stages data next to path and renames it into place, so
// readers see either the previous document or the new one.
func replaceFile(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	staged, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("stage snapshot: %w", err)
	}
	stagedPath := staged.Name()
	committed := false
	defer func() {
		if !committed {
			err = multierr.Append(err, ignoreMissing(os.Remove(stagedPath)))
		}
	}()

	err = multierr.Combine(
		writeAll(staged, data),
		staged.Chmod(perm),
		staged.Sync(),
	)
	if closeErr := staged.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("stage snapshot: %w", err)
	}

	if err = os.Rename(stagedPath, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	committed = true
	return nil
}

func writeAll(f *os.File, data []byte) error {
	_, err := f.Write(data)
	return err
}

func ignoreMissing(err error) error {
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
