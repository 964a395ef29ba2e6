package zipfile

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

type Reader struct {
	PathToZipFile string
	zipReader     *zip.ReadCloser
}

func OpenReader(pathToZipFile string) (*Reader, error) {
	zr, err := zip.OpenReader(pathToZipFile)
	if err != nil {
		return nil, errors.Wrapf(err, "zipfile: opening %s", pathToZipFile)
	}

	return &Reader{PathToZipFile: pathToZipFile, zipReader: zr}, nil
}

func (reader *Reader) Close() error {
	return reader.zipReader.Close()
}

// Manifest reads the bundle's manifest entry out of the archive.
func (reader *Reader) Manifest(bundleUUID string) (*Manifest, error) {
	entry, err := reader.zipReader.Open(ManifestName(bundleUUID))
	if err != nil {
		return nil, errors.Wrapf(err, "zipfile: manifest entry missing in %s", reader.PathToZipFile)
	}
	defer entry.Close()

	return ReadManifest(entry)
}

// ExtractAll expands every entry into destDir, preserving the archive
// relative paths. Entries that would escape destDir are rejected.
func (reader *Reader) ExtractAll(destDir string) error {
	for _, entry := range reader.zipReader.File {
		if err := reader.extractEntry(entry, destDir); err != nil {
			return err
		}
	}
	return nil
}

// Extract expands a single named entry into destDir and returns the path it
// was written to.
func (reader *Reader) Extract(name, destDir string) (string, error) {
	for _, entry := range reader.zipReader.File {
		if entry.Name == name {
			if err := reader.extractEntry(entry, destDir); err != nil {
				return "", err
			}
			return filepath.Join(destDir, filepath.FromSlash(entry.Name)), nil
		}
	}
	return "", errors.Errorf("zipfile: no entry %s in %s", name, reader.PathToZipFile)
}

func (reader *Reader) extractEntry(entry *zip.File, destDir string) error {
	cleaned := filepath.Clean(filepath.FromSlash(entry.Name))
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return errors.Errorf("zipfile: entry %s escapes extraction dir", entry.Name)
	}

	destPath := filepath.Join(destDir, cleaned)
	if entry.FileInfo().IsDir() {
		return os.MkdirAll(destPath, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errors.Wrapf(err, "zipfile: mkdir for %s", destPath)
	}

	src, err := entry.Open()
	if err != nil {
		return errors.Wrapf(err, "zipfile: open entry %s", entry.Name)
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "zipfile: create %s", destPath)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return errors.Wrapf(err, "zipfile: extract %s", entry.Name)
	}

	return dst.Close()
}
