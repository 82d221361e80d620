// Package client publishes events on the broker channel shared by all
// server nodes.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/strimo-org/strimo/topic"
)

// Event is the unit published on the broker and delivered to sessions.
type Event struct {
	UserID   string      `json:"user_id" mapstructure:"user_id"`
	Channel  *topic.Name `json:"channel" mapstructure:"channel"`
	Name     string      `json:"name" mapstructure:"name"`
	Data     any         `json:"data" mapstructure:"data"`
	Metadata any         `json:"metadata,omitempty" mapstructure:"metadata"`

	// EventID, when set, rides along as the record's acknowledgement id.
	EventID string `json:"event_id,omitempty" mapstructure:"event_id"`
}

type Options struct {
	URL     string
	Channel string
	Name    string
}

// Client is a producer handle on the broker channel.
type Client struct {
	Client   pulsar.Client
	producer pulsar.Producer
}

func New(options Options) (*Client, error) {
	c, err := pulsar.NewClient(pulsar.ClientOptions{
		URL: options.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("client: connect broker: %w", err)
	}

	producer, err := c.CreateProducer(pulsar.ProducerOptions{
		Topic: options.Channel,
		Name:  options.Name,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	return &Client{
		Client:   c,
		producer: producer,
	}, nil
}

// Send publishes event as a JSON payload.
func (c *Client) Send(event *Event) error {
	if c.producer == nil {
		return errors.New("client: producer not initialized")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = c.producer.Send(context.Background(), &pulsar.ProducerMessage{
		Payload: payload,
	})

	return err
}

func (c *Client) Close() {
	if c.producer != nil {
		c.producer.Close()
	}
	c.Client.Close()
}
