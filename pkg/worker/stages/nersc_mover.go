package stages

import (
	"context"
	"path/filepath"

	"github.com/apex/log"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

// Tape is the HPSS surface the NERSC stages need. hpss.Client implements it.
type Tape interface {
	Available(ctx context.Context) error
	MkdirAll(ctx context.Context, tapeDir string) error
	Put(ctx context.Context, localPath, tapePath string) error
	Get(ctx context.Context, localPath, tapePath string) error
	HashList(ctx context.Context, tapePath string) (string, error)
	HashVerify(ctx context.Context, tapePath string) error
}

type NerscMoverConfig struct {
	RseBasePath  string `env:"RSE_BASE_PATH,required"`
	TapeBasePath string `env:"TAPE_BASE_PATH,required"`
}

// NerscMover writes taping bundles from the NERSC staging area onto HPSS
// tape, mirroring the warehouse path under the tape base path.
type NerscMover struct {
	cfg  NerscMoverConfig
	tape Tape
}

func NewNerscMover(cfg NerscMoverConfig, tape Tape) *NerscMover {
	return &NerscMover{cfg: cfg, tape: tape}
}

func (m *NerscMover) Name() string {
	return "nersc-mover"
}

// Preflight keeps the mover from claiming anything while the archive system
// is down for maintenance.
func (m *NerscMover) Preflight(ctx context.Context) error {
	return m.tape.Available(ctx)
}

func (m *NerscMover) Do(ctx context.Context, bundle *ltamodel.Bundle) (*worker.Result, error) {
	basename := filepath.Base(bundle.BundlePath)
	rsePath := filepath.Join(m.cfg.RseBasePath, basename)
	tapeDir := filepath.Join(m.cfg.TapeBasePath, bundle.Path)
	tapePath := filepath.Join(tapeDir, basename)

	if err := m.tape.MkdirAll(ctx, tapeDir); err != nil {
		return nil, err
	}

	log.Infof("nersc-mover: writing %s to tape at %s", rsePath, tapePath)
	if err := m.tape.Put(ctx, rsePath, tapePath); err != nil {
		return nil, err
	}

	return nil, nil
}
