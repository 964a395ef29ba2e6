package config

import (
	"os"

	"github.com/apex/log"
)

// LTADotenvPath is the conventional dotenv file for local development. In
// production the orchestrator injects the environment and the file is absent.
const LTADotenvPath = ".env.lta"

var configer Configer = &DotenvConfig{DotenvPath: LTADotenvPath}

func SetConfig(c Configer) {
	configer = c
}

func GetConfig() Configer {
	return configer
}

// MustLoadFromLTADotenv seeds the environment from .env.lta when the file
// exists and returns the package configer. A malformed file is fatal; a
// missing file is not.
func MustLoadFromLTADotenv() Configer {
	c := NewDotenvConfig(LTADotenvPath)
	if err := c.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Unable to load %s: %s", LTADotenvPath, err)
		}
	}

	SetConfig(c)
	return c
}

func LoadFromPath(path string) error {
	return configer.LoadFromPath(path)
}

func Load() error {
	return configer.Load()
}

func GetKey(key string) string {
	return configer.GetKey(key)
}

func MustGetKey(key string) string {
	return configer.MustGetKey(key)
}

func GetKeyWithDefault(key, defaultValue string) string {
	return configer.GetKeyWithDefault(key, defaultValue)
}

func GetIntKey(key string) int {
	return configer.GetIntKey(key)
}

func MustGetIntKey(key string) int {
	return configer.MustGetIntKey(key)
}

func GetIntKeyWithDefault(key string, defaultValue int) int {
	return configer.GetIntKeyWithDefault(key, defaultValue)
}

func GetBoolKeyWithDefault(key string, defaultValue bool) bool {
	return configer.GetBoolKeyWithDefault(key, defaultValue)
}
