package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/wipac/lta/pkg/filecatalog"
	"github.com/wipac/lta/pkg/gridftp"
	"github.com/wipac/lta/pkg/hpss"
	"github.com/wipac/lta/pkg/worker"
	"github.com/wipac/lta/pkg/worker/stages"
)

type catalogConfig struct {
	RestURL string `env:"FILE_CATALOG_REST_URL,required"`
}

func newCatalogClient() (*filecatalog.Client, error) {
	var cfg catalogConfig
	if err := worker.LoadStageConfig(&cfg); err != nil {
		return nil, err
	}

	return filecatalog.NewClient(cfg.RestURL), nil
}

type gridftpConfig struct {
	TimeoutSeconds int    `env:"GRIDFTP_TIMEOUT" envDefault:"1200"`
	CredPath       string `env:"GRIDFTP_CRED_PATH"`
}

func newGridftpClient() (*gridftp.Client, error) {
	var cfg gridftpConfig
	if err := worker.LoadStageConfig(&cfg); err != nil {
		return nil, err
	}

	return gridftp.New(time.Duration(cfg.TimeoutSeconds)*time.Second, cfg.CredPath), nil
}

type hpssConfig struct {
	HsiPath   string `env:"HSI_PATH" envDefault:"/usr/bin/hsi"`
	AvailPath string `env:"HPSS_AVAIL_PATH" envDefault:"/usr/common/software/bin/hpss_avail"`
}

func newHpssClient() (*hpss.Client, error) {
	var cfg hpssConfig
	if err := worker.LoadStageConfig(&cfg); err != nil {
		return nil, err
	}

	return hpss.New(cfg.HsiPath, cfg.AvailPath), nil
}

var pickerCmd = &cobra.Command{
	Use:   "picker",
	Short: "Turn new transfer requests into bundle specifications",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("picker", func(b *stageBuilder) (worker.Stage, error) {
			var cfg stages.PickerConfig
			if err := worker.LoadStageConfig(&cfg); err != nil {
				return nil, err
			}
			catalog, err := newCatalogClient()
			if err != nil {
				return nil, err
			}
			return b.requestStage("picker", stages.NewPicker(cfg, b.client, catalog)), nil
		})
	},
}

var locatorCmd = &cobra.Command{
	Use:   "locator",
	Short: "Find archived bundles for retrieval requests",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("locator", func(b *stageBuilder) (worker.Stage, error) {
			var cfg stages.LocatorConfig
			if err := worker.LoadStageConfig(&cfg); err != nil {
				return nil, err
			}
			catalog, err := newCatalogClient()
			if err != nil {
				return nil, err
			}
			return b.requestStage("locator", stages.NewLocator(cfg, b.client, catalog)), nil
		})
	},
}

var bundlerCmd = &cobra.Command{
	Use:   "bundler",
	Short: "Build archive files from bundle specifications",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("bundler", func(b *stageBuilder) (worker.Stage, error) {
			var cfg stages.BundlerConfig
			if err := worker.LoadStageConfig(&cfg); err != nil {
				return nil, err
			}
			catalog, err := newCatalogClient()
			if err != nil {
				return nil, err
			}
			return b.bundleStage("bundler", stages.NewBundler(cfg, b.client, catalog)), nil
		})
	},
}

var rateLimiterCmd = &cobra.Command{
	Use:   "rate-limiter",
	Short: "Stage archives into the transfer directory under a byte quota",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("rate-limiter", func(b *stageBuilder) (worker.Stage, error) {
			var cfg stages.RateLimiterConfig
			if err := worker.LoadStageConfig(&cfg); err != nil {
				return nil, err
			}
			return b.bundleStage("rate-limiter", stages.NewRateLimiter(cfg)), nil
		})
	},
}

var replicatorCmd = &cobra.Command{
	Use:   "replicator",
	Short: "Transfer staged archives to the destination site over gridftp",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("replicator", func(b *stageBuilder) (worker.Stage, error) {
			var cfg stages.ReplicatorConfig
			if err := worker.LoadStageConfig(&cfg); err != nil {
				return nil, err
			}
			gftp, err := newGridftpClient()
			if err != nil {
				return nil, err
			}
			return b.bundleStage("replicator", stages.NewReplicator(cfg, gftp, nil)), nil
		})
	},
}

var siteMoveVerifierCmd = &cobra.Command{
	Use:   "site-move-verifier",
	Short: "Verify archive checksums after the inter-site transfer",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("site-move-verifier", func(b *stageBuilder) (worker.Stage, error) {
			var cfg stages.SiteMoveVerifierConfig
			if err := worker.LoadStageConfig(&cfg); err != nil {
				return nil, err
			}
			return b.bundleStage("site-move-verifier", stages.NewSiteMoveVerifier(cfg)), nil
		})
	},
}

var nerscMoverCmd = &cobra.Command{
	Use:   "nersc-mover",
	Short: "Write verified archives to HPSS tape",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("nersc-mover", func(b *stageBuilder) (worker.Stage, error) {
			var cfg stages.NerscMoverConfig
			if err := worker.LoadStageConfig(&cfg); err != nil {
				return nil, err
			}
			tape, err := newHpssClient()
			if err != nil {
				return nil, err
			}
			return b.bundleStage("nersc-mover", stages.NewNerscMover(cfg, tape)), nil
		})
	},
}

var nerscRetrieverCmd = &cobra.Command{
	Use:   "nersc-retriever",
	Short: "Read located archives back from HPSS tape",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("nersc-retriever", func(b *stageBuilder) (worker.Stage, error) {
			var cfg stages.NerscRetrieverConfig
			if err := worker.LoadStageConfig(&cfg); err != nil {
				return nil, err
			}
			tape, err := newHpssClient()
			if err != nil {
				return nil, err
			}
			return b.bundleStage("nersc-retriever", stages.NewNerscRetriever(cfg, tape)), nil
		})
	},
}

var nerscVerifierCmd = &cobra.Command{
	Use:   "nersc-verifier",
	Short: "Verify taped archives and register them in the file catalog",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("nersc-verifier", func(b *stageBuilder) (worker.Stage, error) {
			var cfg stages.NerscVerifierConfig
			if err := worker.LoadStageConfig(&cfg); err != nil {
				return nil, err
			}
			catalog, err := newCatalogClient()
			if err != nil {
				return nil, err
			}
			tape, err := newHpssClient()
			if err != nil {
				return nil, err
			}
			return b.bundleStage("nersc-verifier", stages.NewNerscVerifier(cfg, b.client, catalog, tape)), nil
		})
	},
}

var desyVerifierCmd = &cobra.Command{
	Use:   "desy-verifier",
	Short: "Verify archives landed at DESY and register them in the file catalog",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("desy-verifier", func(b *stageBuilder) (worker.Stage, error) {
			var cfg stages.DesyVerifierConfig
			if err := worker.LoadStageConfig(&cfg); err != nil {
				return nil, err
			}
			catalog, err := newCatalogClient()
			if err != nil {
				return nil, err
			}
			gftp, err := newGridftpClient()
			if err != nil {
				return nil, err
			}
			return b.bundleStage("desy-verifier", stages.NewDesyVerifier(cfg, b.client, catalog, gftp)), nil
		})
	},
}

var deleterCmd = &cobra.Command{
	Use:   "deleter",
	Short: "Remove archive copies whose bundles have moved on",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("deleter", func(b *stageBuilder) (worker.Stage, error) {
			return b.bundleStage("deleter", stages.NewDeleter()), nil
		})
	},
}

var unpackerCmd = &cobra.Command{
	Use:   "unpacker",
	Short: "Unpack retrieved archives back into the warehouse",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("unpacker", func(b *stageBuilder) (worker.Stage, error) {
			var cfg stages.UnpackerConfig
			if err := worker.LoadStageConfig(&cfg); err != nil {
				return nil, err
			}
			catalog, err := newCatalogClient()
			if err != nil {
				return nil, err
			}
			unpacker, err := stages.NewUnpacker(cfg, catalog)
			if err != nil {
				return nil, err
			}
			return b.bundleStage("unpacker", unpacker), nil
		})
	},
}

var finisherCmd = &cobra.Command{
	Use:   "transfer-request-finisher",
	Short: "Close out transfer requests whose bundles are all done",
	Run: func(cmd *cobra.Command, args []string) {
		runStage("transfer-request-finisher", func(b *stageBuilder) (worker.Stage, error) {
			return b.bundleStage("transfer-request-finisher", stages.NewFinisher(b.client)), nil
		})
	},
}

func init() {
	rootCmd.AddCommand(pickerCmd)
	rootCmd.AddCommand(locatorCmd)
	rootCmd.AddCommand(bundlerCmd)
	rootCmd.AddCommand(rateLimiterCmd)
	rootCmd.AddCommand(replicatorCmd)
	rootCmd.AddCommand(siteMoveVerifierCmd)
	rootCmd.AddCommand(nerscMoverCmd)
	rootCmd.AddCommand(nerscRetrieverCmd)
	rootCmd.AddCommand(nerscVerifierCmd)
	rootCmd.AddCommand(desyVerifierCmd)
	rootCmd.AddCommand(deleterCmd)
	rootCmd.AddCommand(unpackerCmd)
	rootCmd.AddCommand(finisherCmd)
}
