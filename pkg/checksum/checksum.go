// Package checksum computes the digest pair recorded on every bundle:
// SHA-512 for verification and Adler-32 for compatibility with grid tooling.
package checksum

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash/adler32"
	"io"
	"os"

	"github.com/pkg/errors"
)

const readBufferSize = 128 * 1024

// Sums holds the hex encoded digests for a single artifact.
type Sums struct {
	SHA512  string
	Adler32 string
}

// ForFile streams the file once and computes both digests.
func ForFile(path string) (*Sums, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "checksum: open %s", path)
	}
	defer f.Close()

	return ForReader(f)
}

// ForReader computes both digests from r.
func ForReader(r io.Reader) (*Sums, error) {
	sha := sha512.New()
	adler := adler32.New()

	buf := make([]byte, readBufferSize)
	if _, err := io.CopyBuffer(io.MultiWriter(sha, adler), r, buf); err != nil {
		return nil, errors.Wrap(err, "checksum: read")
	}

	return &Sums{
		SHA512:  hex.EncodeToString(sha.Sum(nil)),
		Adler32: fmt.Sprintf("%08x", adler.Sum32()),
	}, nil
}

// SHA512ForFile computes only the SHA-512 digest; verifiers that compare
// against the recorded value use this.
func SHA512ForFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "checksum: open %s", path)
	}
	defer f.Close()

	sha := sha512.New()
	buf := make([]byte, readBufferSize)
	if _, err := io.CopyBuffer(sha, f, buf); err != nil {
		return "", errors.Wrapf(err, "checksum: read %s", path)
	}

	return hex.EncodeToString(sha.Sum(nil)), nil
}
