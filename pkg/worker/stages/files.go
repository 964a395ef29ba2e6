package stages

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// moveFile renames src to dest, copying across filesystems when rename
// fails. Staging and outbox dirs routinely live on different mounts.
func moveFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrapf(err, "mkdir for %s", dest)
	}

	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "create %s", dest)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return errors.Wrapf(err, "copy %s to %s", src, dest)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "close %s", dest)
	}

	return os.Remove(src)
}

// dirSize sums the regular file sizes under root. A missing root counts as
// empty.
func dirSize(root string) (int64, error) {
	var total int64

	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "sizing %s", root)
	}

	return total, nil
}
