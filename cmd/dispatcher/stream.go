package main

import (
	"context"
	"net/http"
	"time"

	"dispatchq/internal/metrics"
	"dispatchq/internal/service"
	"dispatchq/internal/tracing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

// handleEventStream upgrades to a websocket and forwards every delivery event as JSON.
// ?message_id= narrows the stream to one message. Events are a live tail only;
// a client that falls behind loses events and should re-read /messages/{id}/events.
func (s *Server) handleEventStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("message_id")

		// the server write timeout would otherwise cut long-lived streams
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to accept event stream")
			return
		}
		defer conn.CloseNow()

		events, unsubscribe := s.services.Events.Subscribe()
		defer unsubscribe()

		// the stream is write-only; CloseRead handles control frames and cancels ctx on client close
		ctx := conn.CloseRead(r.Context())

		fields := logrus.Fields{
			service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
			service.LogFieldMessageID: filter,
		}
		s.logger.WithFields(fields).Info("Event stream subscriber connected")
		metrics.AddToCounter("event_stream_subscribers", 1, nil, "Connected event stream subscribers")
		defer metrics.AddToCounter("event_stream_subscribers", -1, nil, "Connected event stream subscribers")

		ping := time.NewTicker(streamPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.WithFields(fields).Info("Event stream subscriber disconnected")
				return

			case <-ping.C:
				pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					s.logger.WithFields(fields).WithError(err).Debug("Event stream ping failed")
					return
				}

			case ev, ok := <-events:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				if filter != "" && ev.MessageID != filter {
					continue
				}
				writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
				err := wsjson.Write(writeCtx, conn, ev)
				cancel()
				if err != nil {
					s.logger.WithFields(fields).WithError(err).Debug("Event stream write failed")
					return
				}
			}
		}
	}
}
