package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"

	"github.com/strimo-org/strimo/pkg/client"
	"github.com/strimo-org/strimo/sse"
)

// Feed consumes the broker channel and drives the bus: control events on the
// $SYS/session channel maintain the registry, everything else is published
// to sessions.
type Feed struct {
	consumer pulsar.Consumer
	bus      *Bus
	logger   zerolog.Logger
}

type FeedOptions struct {
	ID      string
	Channel string
	Client  pulsar.Client
	Bus     *Bus
	Logger  zerolog.Logger
}

func NewFeed(options FeedOptions) (*Feed, error) {
	consumer, err := options.Client.Subscribe(pulsar.ConsumerOptions{
		Topic:            options.Channel,
		SubscriptionName: options.ID,
		Type:             pulsar.Exclusive,
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe broker channel: %w", err)
	}

	return &Feed{
		consumer: consumer,
		bus:      options.Bus,
		logger:   options.Logger,
	}, nil
}

// Start launches the receive loop in a background goroutine.
func (f *Feed) Start() {
	go func() {
		for {
			msg, err := f.consumer.Receive(context.Background())
			if err != nil {
				f.logger.Error().Err(err).Msg("receive broker message")
				return
			}

			var event client.Event
			if err := json.Unmarshal(msg.Payload(), &event); err != nil {
				f.logger.Warn().Err(err).Msg("decode broker event")
				continue
			}

			if event.Channel == nil {
				f.logger.Warn().Msg("broker event without channel")
				continue
			}

			if event.Channel.IsServerOwned() {
				f.handleControl(&event)
				continue
			}

			f.bus.Publish(&event)
		}
	}()
}

func (f *Feed) Close() {
	f.consumer.Close()
}

func (f *Feed) handleControl(event *client.Event) {
	if event.Channel.Value != SessionChannel {
		return
	}

	var data SubscribeEvent
	if err := mapstructure.Decode(event.Data, &data); err != nil {
		f.logger.Warn().Err(err).Msg("decode control event")
		return
	}

	switch event.Name {
	case SessionSubscribed:
		f.bus.Subscribe(event.UserID, data.SessionID, &data.Filter)
		f.notify(data.SessionID, SessionSubscribed, &data)
	case SessionUnsubscribed:
		f.bus.Unsubscribe(event.UserID, data.SessionID, &data.Filter)
		f.notify(data.SessionID, SessionUnsubscribed, &data)
	}
}

// notify emits a typed notice; a client only sees it after opting into the
// notice type on its session.
func (f *Feed) notify(sessionID, name string, data *SubscribeEvent) {
	session, ok := f.bus.server.Get(sessionID)
	if !ok {
		return
	}

	if err := session.Send(data, sse.WithEvent(name)); err != nil {
		f.logger.Warn().Err(err).Str("session_id", sessionID).Msg("send notice")
	}
}
