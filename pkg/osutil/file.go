package osutil

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteFileAtomic writes data to path such that readers observe either the
// previous contents or the complete new contents, never a partial write.
// Missing parent directories are created with dirPerm.
func WriteFileAtomic(path string, data []byte, perm, dirPerm os.FileMode) error {
	tmpName, err := writeTemp(path, data, perm, dirPerm)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName)

	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "failed to move temporary file to %s", path)
	}
	return nil
}

// WriteFileExclusive is WriteFileAtomic for files that must never be
// replaced. When path already exists it is left untouched and the returned
// error matches os.ErrExist.
func WriteFileExclusive(path string, data []byte, perm, dirPerm os.FileMode) error {
	tmpName, err := writeTemp(path, data, perm, dirPerm)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName)

	if err := os.Link(tmpName, path); err != nil {
		return errors.Wrapf(err, "failed to link temporary file to %s", path)
	}
	return nil
}

// writeTemp writes data to a synced temporary file next to path and returns
// its name. The caller removes it.
func writeTemp(path string, data []byte, perm, dirPerm os.FileMode) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", errors.Wrapf(err, "failed to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temporary file")
	}
	tmpName := tmp.Name()

	fail := func(err error, msg string) (string, error) {
		tmp.Close()
		os.Remove(tmpName)
		return "", errors.Wrap(err, msg)
	}

	if err := tmp.Chmod(perm); err != nil {
		return fail(err, "failed to set file mode")
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err, "failed to write temporary file")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "failed to sync temporary file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", errors.Wrap(err, "failed to close temporary file")
	}
	return tmpName, nil
}
