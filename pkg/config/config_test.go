package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/sagabus/pkg/notifier"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sagabus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "")

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gochannel", config.BrokerProvider)
	assert.Equal(t, "file://./data", config.StoreURL)
	assert.Equal(t, string(notifier.BestEffort), config.DeliveryGuarantee)
	assert.Equal(t, "info", config.LogLevel)
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
broker_provider: kafka
store_url: redis://localhost:6379/0
delivery_guarantee: at-least-once
publish_budget: 10s
log_level: debug
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kafka", config.BrokerProvider)
	assert.Equal(t, "redis://localhost:6379/0", config.StoreURL)
	assert.Equal(t, "10s", config.PublishBudget)

	notifierConfig := config.NotifierConfig()
	assert.Equal(t, notifier.AtLeastOnce, notifierConfig.Guarantee)
	assert.Equal(t, 10*time.Second, notifierConfig.PublishBudget)
}

func TestLoad_RejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown_guarantee", content: "delivery_guarantee: exactly-once"},
		{name: "unknown_broker", content: "broker_provider: rabbitmq"},
		{name: "bad_publish_budget", content: "publish_budget: soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
