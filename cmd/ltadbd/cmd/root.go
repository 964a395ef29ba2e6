package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wipac/lta/pkg/config"
	"github.com/wipac/lta/pkg/ltadb"
	"github.com/wipac/lta/pkg/ltadb/stor"
	"github.com/wipac/lta/pkg/ltadbd/reaper"
	"github.com/wipac/lta/pkg/ltadbd/webapi/apimiddleware"
	"github.com/wipac/lta/pkg/ltalog"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ltadbd",
	Short: "Run the archival coordinator REST server",
	Long:  ``,
	Run: func(cmd *cobra.Command, args []string) {
		ltalog.SetupFromEnv()
		c := config.MustLoadFromLTADotenv()

		db := ltadb.MustConnectToDB()
		if err := ltadb.RunMigrations(db); err != nil {
			log.Fatalf("Unable to run migrations: %s", err)
		}
		stors := stor.NewGormStors(db)

		authConfig, err := apimiddleware.NewAuthConfig(
			c.GetKey("LTA_AUTH_SECRET"),
			c.GetKey("LTA_AUTH_ISSUER"),
			c.GetKey("LTA_AUTH_PUBLIC_KEY_FILE"),
			c.GetKey("LTA_AUTH_AUDIENCE"))
		if err != nil {
			log.Fatalf("Unable to configure auth: %s", err)
		}

		registry := prometheus.NewRegistry()
		requestMetrics := apimiddleware.NewRequestMetrics(registry)

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.Use(middleware.Recover())
		e.Use(middleware.BodyLimit(c.GetKeyWithDefault("LTA_MAX_BODY_SIZE", "16M")))
		e.Use(requestMetrics.Middleware())

		setupRoutes(e, RouteOpts{
			authConfig: authConfig,
			stors:      stors,
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		claimReaper := reaper.NewReaper(stors,
			time.Duration(c.GetIntKeyWithDefault("LTA_REAPER_INTERVAL_SECONDS", 300))*time.Second,
			time.Duration(c.GetIntKeyWithDefault("LTA_MAX_CLAIM_AGE_HOURS", 12))*time.Hour)
		go claimReaper.Run(ctx)

		go serveMetrics(registry, c.GetKeyWithDefault("PROMETHEUS_METRICS_PORT", "8090"))

		go func() {
			port := c.GetKeyWithDefault("LTA_REST_PORT", "8080")
			log.Infof("ltadbd: serving on :%s", port)
			if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Unable to start server: %s", err)
			}
		}()

		<-ctx.Done()
		log.Infof("ltadbd: shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Shutdown: %s", err)
		}
	},
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
