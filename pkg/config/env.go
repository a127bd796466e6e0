package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GOGAS_"

// applyEnv overrides deployment-specific fields from the environment.
// A .env file in the working directory is read first if present; variables
// already set in the process environment take precedence over it.
func (c *Config) applyEnv() error {
	_ = godotenv.Load()

	if v := env("DEVICE_ID"); v != "" {
		c.DeviceID = v
	}
	if v := env("GAS_TYPE"); v != "" && !strings.EqualFold(v, c.Gas.Type) {
		c.Gas.Type = v
		// Switching gas re-selects its preset thresholds
		c.Thresholds = Thresholds{}
	}
	if v := env("SERIAL_PORT"); v != "" {
		c.Serial.Port = v
	}
	if v := env("SERIAL_BAUD"); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sSERIAL_BAUD: %w", EnvPrefix, err)
		}
		c.Serial.BaudRate = baud
	}
	if v := env("STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := env("HTTP_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
	if v := env("LOG_FILE"); v != "" {
		c.Log.File = v
	}

	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}
