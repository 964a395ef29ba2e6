// Package zipfile reads and writes bundle archives: an uncompressed zip
// holding the bundled files at warehouse-relative paths, with an ndjson
// manifest as the first entry and a sidecar copy of that manifest written
// next to the archive.
package zipfile

import (
	"archive/zip"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ArchiveName returns the artifact filename for a bundle.
func ArchiveName(bundleUUID string) string {
	return bundleUUID + ".zip"
}

// ManifestName returns the manifest filename for a bundle.
func ManifestName(bundleUUID string) string {
	return bundleUUID + ".metadata.ndjson"
}

type Writer struct {
	PathToZipFile string
	file          *os.File
	zipWriter     *zip.Writer
}

func NewWriter(pathToZipFile string) *Writer {
	return &Writer{
		PathToZipFile: pathToZipFile,
	}
}

// Open creates the archive exclusively; a leftover artifact from a prior
// attempt must be removed first.
func (writer *Writer) Open() error {
	zipFile, err := os.OpenFile(writer.PathToZipFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrapf(err, "zipfile: creating %s", writer.PathToZipFile)
	}
	writer.file = zipFile
	writer.zipWriter = zip.NewWriter(zipFile)
	return nil
}

func (writer *Writer) Close() error {
	if writer.zipWriter == nil {
		return nil
	}
	if err := writer.zipWriter.Close(); err != nil {
		writer.file.Close()
		return errors.Wrapf(err, "zipfile: closing %s", writer.PathToZipFile)
	}
	return writer.file.Close()
}

// AddToArchive stores a file uncompressed at pathWithinArchive. Bundles hold
// detector data that does not compress; storing keeps tape verification a
// straight byte comparison.
func (writer *Writer) AddToArchive(filePath, pathWithinArchive string) error {
	if writer.zipWriter == nil {
		return errors.New("zipfile: writer is not open")
	}

	finfo, err := os.Stat(filePath)
	if err != nil {
		return errors.Wrapf(err, "zipfile: cannot add %s", filePath)
	}

	header, err := zip.FileInfoHeader(finfo)
	if err != nil {
		return errors.Wrapf(err, "zipfile: header for %s", filePath)
	}
	header.Name = pathWithinArchive
	header.Method = zip.Store

	entry, err := writer.zipWriter.CreateHeader(header)
	if err != nil {
		return errors.Wrapf(err, "zipfile: create entry %s", pathWithinArchive)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "zipfile: open %s", filePath)
	}
	defer file.Close()

	bytesWritten, err := io.Copy(entry, file)
	if err != nil {
		return errors.Wrapf(err, "zipfile: copying %s into archive", filePath)
	}
	if bytesWritten != finfo.Size() {
		return errors.Errorf("zipfile: copied only %d of %d bytes for file %s",
			bytesWritten, finfo.Size(), filePath)
	}

	return nil
}
