// Package hpss wraps the hsi command line tools used to move archive
// bundles onto and off of tape at NERSC.
package hpss

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

const (
	DefaultHsiPath   = "/usr/bin/hsi"
	DefaultAvailPath = "/usr/common/software/bin/hpss_avail"
)

// Runner executes an external command and returns its stdout. Implementations
// include stderr in the returned error when the command fails.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), stderr.String())
	}

	return stdout.String(), nil
}

// Client issues hsi commands against the HPSS tape system.
type Client struct {
	runner    Runner
	hsiPath   string
	availPath string
}

func New(hsiPath, availPath string) *Client {
	return NewWithRunner(execRunner{}, hsiPath, availPath)
}

// NewWithRunner substitutes the command runner, used by tests.
func NewWithRunner(runner Runner, hsiPath, availPath string) *Client {
	if hsiPath == "" {
		hsiPath = DefaultHsiPath
	}
	if availPath == "" {
		availPath = DefaultAvailPath
	}

	return &Client{runner: runner, hsiPath: hsiPath, availPath: availPath}
}

// Available reports whether the HPSS archive system is up. A nil return
// means tape operations may proceed; otherwise the error says why not.
// Workers skip the work cycle without claiming anything when tape is down.
func (c *Client) Available(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, c.availPath, "archive"); err != nil {
		return errors.Wrap(err, "hpss archive system unavailable")
	}

	return nil
}

// MkdirAll creates the destination directory on tape, parents included.
func (c *Client) MkdirAll(ctx context.Context, tapeDir string) error {
	if _, err := c.runner.Run(ctx, c.hsiPath, "mkdir", "-p", tapeDir); err != nil {
		return errors.Wrapf(err, "creating tape directory %s", tapeDir)
	}

	return nil
}

// Put writes a local file to tape. The -H sha512 flag has HPSS compute and
// store a checksum during the write, which HashList reads back later.
func (c *Client) Put(ctx context.Context, localPath, tapePath string) error {
	if _, err := c.runner.Run(ctx, c.hsiPath, "put", "-c", "on", "-H", "sha512", localPath, ":", tapePath); err != nil {
		return errors.Wrapf(err, "writing %s to tape at %s", localPath, tapePath)
	}

	return nil
}

// Get reads a file back from tape to a local path.
func (c *Client) Get(ctx context.Context, localPath, tapePath string) error {
	if _, err := c.runner.Run(ctx, c.hsiPath, "get", "-c", "on", localPath, ":", tapePath); err != nil {
		return errors.Wrapf(err, "reading %s from tape to %s", tapePath, localPath)
	}

	return nil
}

// HashList returns the sha512 checksum HPSS recorded for a tape file when it
// was written. This reads stored metadata; no tape access occurs.
func (c *Client) HashList(ctx context.Context, tapePath string) (string, error) {
	out, err := c.runner.Run(ctx, c.hsiPath, "-P", "hashlist", tapePath)
	if err != nil {
		return "", errors.Wrapf(err, "listing checksum for %s", tapePath)
	}

	// 169...873 sha512 /home/projects/icecube/.../abc.zip [hsi]
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[1] != "sha512" {
		return "", errors.Errorf("unexpected hashlist output for %s: %q", tapePath, line)
	}

	return fields[0], nil
}

// HashVerify asks HPSS to read the file back from tape, recompute its
// checksum, and compare against the stored value.
func (c *Client) HashVerify(ctx context.Context, tapePath string) error {
	out, err := c.runner.Run(ctx, c.hsiPath, "-P", "hashverify", "-A", tapePath)
	if err != nil {
		return errors.Wrapf(err, "verifying %s on tape", tapePath)
	}

	// /home/projects/icecube/.../abc.zip: (sha512) OK
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[1] != "(sha512)" || fields[2] != "OK" {
		return errors.Errorf("tape checksum verification failed for %s: %q", tapePath, line)
	}

	return nil
}
