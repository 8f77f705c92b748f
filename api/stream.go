package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardflow-api/domain"
)

// EventStream serves live board events over SSE, fed by the Redis pub/sub
// channel the event publisher writes to. Browsers cannot set headers on
// EventSource connections, so the bearer token may also arrive as a query
// parameter.
type EventStream struct {
	redis   *redis.Client
	channel string
	log     *log.Logger
}

// NewEventStream creates a stream backed by the given pub/sub channel.
func NewEventStream(rc *redis.Client, channel string, logger *log.Logger) *EventStream {
	return &EventStream{redis: rc, channel: channel, log: logger}
}

func streamBoardEvents(s *EventStream, catalog *domain.Catalog, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			if token := c.QueryParam("token"); token != "" {
				header = "Bearer " + token
			}
		}
		accountID, err := auth.AccountIDFromAuthHeader(header)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		boardType := domain.BoardType(c.Param("board"))
		if _, err := catalog.For(boardType); err != nil {
			return c.String(http.StatusBadRequest, "unknown board type")
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		sub := s.redis.Subscribe(ctx, s.channel)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()

		heartbeat := time.NewTicker(30 * time.Second)
		defer heartbeat.Stop()

		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-heartbeat.C:
				if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case msg, open := <-ch:
				if !open {
					return nil
				}
				var env domain.BoardEventEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					if s.log != nil {
						s.log.Errorf("unable to parse board event: %v", err)
					}
					continue
				}
				if env.AccountID != accountID || env.Event.Board != boardType {
					continue
				}
				data, err := json.Marshal(env.Event)
				if err != nil {
					continue
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
