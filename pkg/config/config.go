// Package config provides configuration loading for orchestrator instances.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dukex/sagabus/pkg/notifier"
)

// Config is the file-level configuration of one orchestrator instance.
type Config struct {
	// BrokerProvider selects the broker channel implementation
	// ("kafka" or "gochannel").
	BrokerProvider string `yaml:"broker_provider"`

	// StoreURL selects the transaction store backing the engine
	// (file://<path> or redis://<addr>).
	StoreURL string `yaml:"store_url"`

	// DeliveryGuarantee selects how broadcasts are published
	// ("best-effort" or "at-least-once").
	DeliveryGuarantee string `yaml:"delivery_guarantee"`

	// PublishBudget bounds publish retries under at-least-once, as a Go
	// duration string ("30s", "1m").
	PublishBudget string `yaml:"publish_budget"`

	LogLevel string `yaml:"log_level"`
}

// Load reads the YAML configuration from the given path and applies defaults.
func Load(filepath string) (Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.BrokerProvider == "" {
		c.BrokerProvider = "gochannel"
	}

	if c.StoreURL == "" {
		c.StoreURL = "file://./data"
	}

	if c.DeliveryGuarantee == "" {
		c.DeliveryGuarantee = string(notifier.BestEffort)
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	switch notifier.Guarantee(c.DeliveryGuarantee) {
	case notifier.BestEffort, notifier.AtLeastOnce:
	default:
		return fmt.Errorf("unknown delivery guarantee: %s", c.DeliveryGuarantee)
	}

	switch c.BrokerProvider {
	case "kafka", "gochannel":
	default:
		return fmt.Errorf("unknown broker provider: %s", c.BrokerProvider)
	}

	if c.PublishBudget != "" {
		if _, err := time.ParseDuration(c.PublishBudget); err != nil {
			return fmt.Errorf("invalid publish budget: %w", err)
		}
	}

	return nil
}

// NotifierConfig translates the file configuration into the notifier's shape.
func (c *Config) NotifierConfig() notifier.Config {
	budget, _ := time.ParseDuration(c.PublishBudget)

	return notifier.Config{
		Guarantee:     notifier.Guarantee(c.DeliveryGuarantee),
		PublishBudget: budget,
	}
}
