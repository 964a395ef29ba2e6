package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wipac/lta/pkg/config"
	"github.com/wipac/lta/pkg/ltaclient"
	"github.com/wipac/lta/pkg/ltalog"
	"github.com/wipac/lta/pkg/worker"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ltaworkerd",
	Short: "Run an archival stage worker",
	Long: `ltaworkerd runs one stage of the archival pipeline. The stage is
selected by subcommand; everything else comes from the environment.`,
}

// stageBuilder carries the pieces every stage daemon shares. Subcommands use
// it to assemble their stage around a stage-specific action.
type stageBuilder struct {
	cfg      *worker.Config
	claimant string
	client   *ltaclient.Client
	metrics  *worker.Metrics
}

func (b *stageBuilder) bundleStage(componentType string, action worker.BundleAction) worker.Stage {
	return &worker.BundleStage{
		ComponentType: componentType,
		Claimant:      b.claimant,
		Source:        b.cfg.SourceSite,
		Dest:          b.cfg.DestSite,
		InputStatus:   b.cfg.InputStatus,
		OutputStatus:  b.cfg.OutputStatus,
		Client:        b.client,
		Action:        action,
		Metrics:       b.metrics,
	}
}

func (b *stageBuilder) requestStage(componentType string, action worker.RequestAction) worker.Stage {
	return &worker.RequestStage{
		ComponentType: componentType,
		Claimant:      b.claimant,
		Source:        b.cfg.SourceSite,
		Dest:          b.cfg.DestSite,
		Client:        b.client,
		Action:        action,
		Metrics:       b.metrics,
	}
}

// runStage boots the shared harness and runs the built stage until the work
// loop decides it is done or a signal arrives.
func runStage(component string, build func(b *stageBuilder) (worker.Stage, error)) {
	ltalog.SetupFromEnv()
	config.MustLoadFromLTADotenv()

	cfg, err := worker.LoadConfig()
	if err != nil {
		log.Fatalf("%s: %s", component, err)
	}

	claimant, err := worker.NewClaimant(cfg.ComponentName)
	if err != nil {
		log.Fatalf("%s: %s", component, err)
	}
	log.Infof("%s: claimant %s", component, claimant)

	tokens := ltaclient.NewTokenSource(cfg.AuthOpenIDURL, cfg.ClientID, cfg.ClientSecret)
	// acquire a token up front: bad credentials should kill the daemon, not
	// fail every work cycle
	if _, err := tokens.Token(context.Background()); err != nil {
		log.Fatalf("%s: acquiring auth token: %s", component, err)
	}
	client := ltaclient.NewClient(cfg.RestURL, tokens, cfg.WorkRetries, cfg.WorkTimeout())

	registry := prometheus.NewRegistry()
	metrics := worker.NewMetrics(registry)
	go serveMetrics(registry, strconv.Itoa(cfg.PrometheusMetricsPort))

	stage, err := build(&stageBuilder{
		cfg:      cfg,
		claimant: claimant,
		client:   client,
		metrics:  metrics,
	})
	if err != nil {
		log.Fatalf("%s: %s", component, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := worker.New(cfg, client, stage, metrics)
	if err := w.Run(ctx); err != nil {
		log.Fatalf("%s: %s", component, err)
	}
}

func serveMetrics(registry *prometheus.Registry, port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Errorf("metrics listener: %s", err)
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
