package ltalog

import (
	"os"

	"github.com/apex/log"
)

// Setup installs the line handler on the package level apex logger and sets
// the level. Unknown level strings leave the level at info and return the
// parse error so callers can decide whether that matters.
func Setup(level string) error {
	log.SetHandler(NewHandler(os.Stdout))

	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		return err
	}

	log.SetLevel(parsed)
	return nil
}

// SetupFromEnv configures logging from the LOG_LEVEL environment variable.
// Every daemon calls this before anything else logs.
func SetupFromEnv() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	if err := Setup(level); err != nil {
		log.Warnf("unknown LOG_LEVEL %q, using info", level)
	}
}
