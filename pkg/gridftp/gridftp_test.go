package gridftp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls    [][]string
	deadline bool
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	_, f.deadline = ctx.Deadline()
	return "", f.err
}

func TestPutCommandConstruction(t *testing.T) {
	runner := &fakeRunner{}
	client := NewWithRunner(runner, time.Minute, "")

	err := client.Put(context.Background(), "/staging/b1.zip", "gsiftp://gridftp.example.org:2811/archive/b1.zip")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"globus-url-copy", "-cd", "-fast", "-gridftp2",
		"file:///staging/b1.zip", "gsiftp://gridftp.example.org:2811/archive/b1.zip",
	}, runner.calls[0])
	assert.True(t, runner.deadline, "transfers must carry a deadline")
}

func TestGetWithCredential(t *testing.T) {
	runner := &fakeRunner{}
	client := NewWithRunner(runner, time.Minute, "/etc/grid/cred.pem")

	err := client.Get(context.Background(), "gsiftp://gridftp.example.org:2811/archive/b1.zip", "/scratch/b1.zip")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"globus-url-copy", "-fast", "-gridftp2", "-src-cred", "/etc/grid/cred.pem",
		"gsiftp://gridftp.example.org:2811/archive/b1.zip", "file:///scratch/b1.zip",
	}, runner.calls[0])
}

func TestPutFailureWrapsPaths(t *testing.T) {
	runner := &fakeRunner{err: assert.AnError}
	client := NewWithRunner(runner, time.Minute, "")

	err := client.Put(context.Background(), "/staging/b1.zip", "gsiftp://dest/b1.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/staging/b1.zip")
}
