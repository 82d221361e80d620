// Package api is the HTTP shell around the session server: the stream
// endpoint plus the publish, subscription and acknowledgement routes.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/strimo-org/strimo/internal/auth"
	"github.com/strimo-org/strimo/internal/bus"
	"github.com/strimo-org/strimo/internal/core"
	"github.com/strimo-org/strimo/pkg/client"
	"github.com/strimo-org/strimo/sse"
)

type App struct {
	server *sse.Server
	bus    *bus.Bus
	feed   *bus.Feed
	config *core.Config
	auth   *auth.Auth
	client *client.Client
	logger zerolog.Logger
}

func New(cfg *core.Config, logger zerolog.Logger) (*App, error) {
	// Broker producer names must be unique per node; walk the suffixes until
	// one attaches.
	var (
		nodeID string
		c      *client.Client
		err    error
	)

	for i := 0; i < 15; i++ {
		nodeID = fmt.Sprintf("%s-%d", cfg.ID, i)
		c, err = client.New(client.Options{
			URL:     cfg.Broker.URL,
			Channel: cfg.Broker.Channel,
			Name:    nodeID,
		})

		if err == nil {
			break
		}

		if !strings.Contains(err.Error(), "is already connected to topic") {
			return nil, err
		}
	}

	if c == nil {
		return nil, errors.New("api: all broker producer slots are taken")
	}

	server := sse.NewServer(cfg.Session.Options(), logger)
	b := bus.New(server, logger)

	feed, err := bus.NewFeed(bus.FeedOptions{
		ID:      nodeID,
		Channel: cfg.Broker.Channel,
		Client:  c.Client,
		Bus:     b,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	authn, err := auth.New(cfg.JwksURL, logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		server: server,
		bus:    b,
		feed:   feed,
		config: cfg,
		auth:   authn,
		client: c,
		logger: logger,
	}

	server.NewSessionHandler = app.announce
	server.CloseSessionHandler = func(id string, _ *sse.Session) {
		b.Drop(id)
	}

	return app, nil
}

// announce tells the client its session handle on the lifecycle channel.
func (app *App) announce(id string, session *sse.Session) {
	err := session.Send(bus.Envelope{
		Channel: bus.SessionChannel,
		Name:    bus.SessionCreated,
		Data:    id,
	})
	if err != nil {
		app.logger.Warn().Err(err).Str("session_id", id).Msg("announce session")
	}
}

func (app *App) Listen() error {
	app.feed.Start()

	router := httprouter.New()
	router.GET("/sse", app.server.HandleFunc())
	router.POST("/pub", app.publish())
	router.PUT("/sub/*filter", app.subscription(bus.SessionSubscribed))
	router.PUT("/unsub/*filter", app.subscription(bus.SessionUnsubscribed))
	router.PUT("/ack/:eventId", app.acknowledge())
	router.PUT("/listen/:event", app.listen(true))
	router.PUT("/mute/:event", app.listen(false))

	app.logger.Info().Str("addr", app.config.Addr).Msg("listening")

	return http.ListenAndServe(app.config.Addr, router)
}

func (app *App) Close() {
	app.feed.Close()
	app.client.Close()
	app.server.Close()
}
