package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/strimo-org/strimo/internal/bus"
	"github.com/strimo-org/strimo/pkg/client"
	"github.com/strimo-org/strimo/sse"
	"github.com/strimo-org/strimo/topic"
)

// subscription publishes a subscribed/unsubscribed control event so every
// node updates its registry.
func (app *App) subscription(name string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		userID, err := app.auth.UserID(r)
		if err != nil {
			http.Error(w, "Bad request.", http.StatusBadRequest)
			return
		}

		sessionID := app.auth.SessionID(r)
		if sessionID == "" {
			http.Error(w, "Bad request.", http.StatusBadRequest)
			return
		}

		filter, err := topic.NewFilter(strings.TrimPrefix(p.ByName("filter"), "/"))
		if err != nil {
			http.Error(w, "Bad request.", http.StatusBadRequest)
			return
		}

		channel, err := topic.NewName(bus.SessionChannel)
		if err != nil {
			http.Error(w, "Bad request.", http.StatusBadRequest)
			return
		}

		err = app.client.Send(&client.Event{
			UserID:  userID,
			Channel: channel,
			Name:    name,
			Data: &bus.SubscribeEvent{
				SessionID: sessionID,
				Filter:    *filter,
			},
		})

		writeResult(w, err, app.logger)
	}
}

func (app *App) publish() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		// TODO: require a service-account token once available
		var input client.Event
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			http.Error(w, "Bad request.", http.StatusBadRequest)
			return
		}

		if input.Channel == nil {
			http.Error(w, "Bad request.", http.StatusBadRequest)
			return
		}

		if _, err := topic.NewName(input.Channel.Value); err != nil {
			http.Error(w, "Bad request.", http.StatusBadRequest)
			return
		}

		writeResult(w, app.client.Send(&input), app.logger)
	}
}

// acknowledge is the explicit acknowledgement path for events recorded
// outside send's auto-ack.
func (app *App) acknowledge() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		session, ok := app.session(r)
		if !ok {
			http.Error(w, "Bad request.", http.StatusBadRequest)
			return
		}

		session.Acknowledge(p.ByName("eventId"))
		writeResult(w, nil, app.logger)
	}
}

// listen opts the session in or out of a typed notice.
func (app *App) listen(subscribe bool) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		session, ok := app.session(r)
		if !ok {
			http.Error(w, "Bad request.", http.StatusBadRequest)
			return
		}

		eventType := p.ByName("event")
		if subscribe {
			session.Subscribe(eventType)
		} else {
			session.Unsubscribe(eventType)
		}

		writeResult(w, nil, app.logger)
	}
}

// session authenticates the request and resolves its session handle.
func (app *App) session(r *http.Request) (*sse.Session, bool) {
	if _, err := app.auth.UserID(r); err != nil {
		return nil, false
	}

	sessionID := app.auth.SessionID(r)
	if sessionID == "" {
		return nil, false
	}

	return app.server.Get(sessionID)
}

func writeResult(w http.ResponseWriter, err error, logger zerolog.Logger) {
	w.Header().Add("Content-Type", "application/json")

	if err != nil {
		logger.Error().Err(err).Msg("publish event")
		http.Error(w, `{"success": false}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte(`{"success": true}`)); err != nil {
		logger.Warn().Err(err).Msg("write response")
	}
}
