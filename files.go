package webdistributor

import (
	"os"
	"path/filepath"

	"github.com/jxskiss/errors"
)

// writeFileAtomic writes data to a temporary file next to target and renames it into place, so readers never see a
// partially written file.
func writeFileAtomic(target string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return errors.WithMessagef(err, "create temporary file for %s", target)
	}
	tmp := f.Name()

	if _, err = f.Write(data); err == nil {
		err = f.Chmod(perm)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return errors.WithMessagef(err, "write %s", target)
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return errors.WithMessagef(err, "replace %s", target)
	}
	return nil
}

// renameIfExists moves from to to, treating a missing source as success. It reports whether anything was moved.
func renameIfExists(from, to string) (bool, error) {
	if err := os.Rename(from, to); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.WithMessagef(err, "couldn't move %s to %s", from, to)
	}
	return true, nil
}
