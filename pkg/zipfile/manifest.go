package zipfile

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/filecatalog"
)

// ManifestVersion is bumped when the sidecar layout changes.
const ManifestVersion = 3

// ManifestHeader is the first line of the ndjson manifest.
type ManifestHeader struct {
	UUID            string `json:"uuid"`
	Component       string `json:"component"`
	Version         int    `json:"version"`
	CreateTimestamp string `json:"create_timestamp"`
	FileCount       int    `json:"file_count"`
}

// Manifest is the parsed sidecar: the header plus one catalog record per
// bundled file.
type Manifest struct {
	Header ManifestHeader
	Files  []filecatalog.Record
}

// ManifestWriter streams manifest lines to disk; the bundler pages catalog
// records and cannot hold them all in memory.
type ManifestWriter struct {
	file *os.File
	w    *bufio.Writer
}

func CreateManifest(path string, header ManifestHeader) (*ManifestWriter, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "zipfile: creating manifest %s", path)
	}

	mw := &ManifestWriter{file: f, w: bufio.NewWriter(f)}
	if err := mw.writeLine(header); err != nil {
		f.Close()
		return nil, err
	}

	return mw, nil
}

func (mw *ManifestWriter) WriteRecord(record *filecatalog.Record) error {
	return mw.writeLine(record)
}

func (mw *ManifestWriter) writeLine(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "zipfile: encode manifest line")
	}
	if _, err := mw.w.Write(line); err != nil {
		return errors.Wrap(err, "zipfile: write manifest line")
	}
	if err := mw.w.WriteByte('\n'); err != nil {
		return errors.Wrap(err, "zipfile: write manifest line")
	}
	return nil
}

func (mw *ManifestWriter) Close() error {
	if err := mw.w.Flush(); err != nil {
		mw.file.Close()
		return errors.Wrap(err, "zipfile: flush manifest")
	}
	return mw.file.Close()
}

// ReadManifest parses an ndjson manifest.
func ReadManifest(r io.Reader) (*Manifest, error) {
	scanner := bufio.NewScanner(r)
	// catalog records for large bundles can exceed the default token size
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrap(err, "zipfile: read manifest header")
		}
		return nil, errors.New("zipfile: manifest is empty")
	}

	var manifest Manifest
	if err := json.Unmarshal(scanner.Bytes(), &manifest.Header); err != nil {
		return nil, errors.Wrap(err, "zipfile: parse manifest header")
	}

	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record filecatalog.Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, errors.Wrap(err, "zipfile: parse manifest record")
		}
		manifest.Files = append(manifest.Files, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "zipfile: read manifest")
	}

	return &manifest, nil
}

// ReadManifestFile parses a manifest from disk.
func ReadManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "zipfile: open manifest %s", path)
	}
	defer f.Close()

	return ReadManifest(f)
}
