// Package gridftp wraps globus-url-copy for moving archive bundles between
// sites.
package gridftp

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout bounds a single transfer.
const DefaultTimeout = 1200 * time.Second

// Runner executes an external command. Implementations include stderr in the
// returned error when the command fails.
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

// Client runs globus-url-copy transfers with a per-transfer timeout.
type Client struct {
	runner   Runner
	timeout  time.Duration
	credPath string
}

func New(timeout time.Duration, credPath string) *Client {
	return NewWithRunner(execRunner{}, timeout, credPath)
}

// NewWithRunner substitutes the command runner, used by tests.
func NewWithRunner(runner Runner, timeout time.Duration, credPath string) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{runner: runner, timeout: timeout, credPath: credPath}
}

// Put copies a local file to a gridftp URL. The -cd flag creates missing
// destination directories.
func (c *Client) Put(ctx context.Context, localPath, destURL string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{"-cd", "-fast", "-gridftp2"}
	if c.credPath != "" {
		args = append(args, "-dst-cred", c.credPath)
	}
	args = append(args, "file://"+localPath, destURL)

	if _, err := c.runner.Run(ctx, "globus-url-copy", args...); err != nil {
		return errors.Wrapf(err, "transferring %s to %s", localPath, destURL)
	}

	return nil
}

// Get copies a gridftp URL to a local file.
func (c *Client) Get(ctx context.Context, srcURL, localPath string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{"-fast", "-gridftp2"}
	if c.credPath != "" {
		args = append(args, "-src-cred", c.credPath)
	}
	args = append(args, srcURL, "file://"+localPath)

	if _, err := c.runner.Run(ctx, "globus-url-copy", args...); err != nil {
		return errors.Wrapf(err, "transferring %s to %s", srcURL, localPath)
	}

	return nil
}
