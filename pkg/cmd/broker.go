// Package cmd provides factory helpers for applications embedding the
// orchestrator.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dukex/sagabus/pkg/channels/gochannel"
	"github.com/dukex/sagabus/pkg/channels/kafka"
)

// NewBroker creates the broker publisher/subscriber pair for one orchestrator
// instance based on the provider name.
func NewBroker(provider, instanceID string, logger *slog.Logger) (message.Publisher, message.Subscriber) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), instanceID)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return pub, sub
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create GoChannel pub/sub: %w", err))
		}

		return pub, sub
	default:
		panic("Unsupported broker provider: " + provider)
	}
}
