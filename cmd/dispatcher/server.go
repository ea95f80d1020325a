package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"dispatchq/internal/constants"
	"dispatchq/internal/errors"
	"dispatchq/internal/httputil"
	"dispatchq/internal/middleware"
	"dispatchq/internal/models"
	"dispatchq/internal/service"
	"dispatchq/internal/validation"
	"dispatchq/internal/versioning"
	"dispatchq/pkg/channel"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Pinger reports storage reachability for /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles what the admin API drives
type Services struct {
	Enqueuer  *service.Enqueuer
	Sender    *service.Sender
	Admin     *service.Admin
	Templates *service.TemplateResolver
	Events    *service.EventRecorder
	Processor service.ActivityReporter
	Channel   channel.Transmitter
	Store     Pinger
}

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      models.ServerConfig
	services Services
	verbose  bool
	server   *http.Server
}

func NewServer(cfg models.ServerConfig, services Services, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		services: services,
		verbose:  verbose,
	}

	s.router.Use(middleware.ObservabilityMiddleware(logger))
	if verbose {
		s.router.Use(middleware.DetailedLoggingMiddleware(logger, middleware.DefaultDetailedLoggingConfig()))
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	auth := middleware.AdminAuth(s.cfg.AdminToken, s.logger)
	s.router.Handle("/metrics", auth(s.handleMetrics())).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)
	api.Use(versioning.NewVersionMiddleware(s.logger).VersionHandler)

	api.HandleFunc("/messages", s.handleEnqueue()).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleListMessages()).Methods(http.MethodGet)
	api.HandleFunc("/messages/send", s.handleSendNow()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}", s.handleGetMessage()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}/events", s.handleMessageEvents()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}/cancel", s.handleCancel()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/retry", s.handleRetry()).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats()).Methods(http.MethodGet)
	api.HandleFunc("/maintenance/cleanup", s.handleCleanup()).Methods(http.MethodPost)
	api.HandleFunc("/templates/{name}", s.handlePutTemplate()).Methods(http.MethodPut)
	api.HandleFunc("/templates/{name}", s.handleGetTemplate()).Methods(http.MethodGet)
	api.HandleFunc("/events/stream", s.handleEventStream()).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.WithField("port", s.cfg.Port).Info("Starting admin API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status         string `json:"status"`
	Database       string `json:"database"`
	Processor      string `json:"processor"`
	Channel        string `json:"channel"`
	CircuitBreaker string `json:"circuit_breaker,omitempty"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "healthy", Database: "ok", Processor: "stopped"}
		status := http.StatusOK

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.services.Store.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Health check: database unreachable")
			resp.Status = "unhealthy"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}

		if s.services.Processor != nil && s.services.Processor.IsRunning() {
			resp.Processor = "running"
		}
		if s.services.Channel != nil {
			resp.Channel = s.services.Channel.Name()
			if cb := channel.Breaker(s.services.Channel); cb != nil {
				resp.CircuitBreaker = cb.GetState().String()
			}
		}

		httputil.WriteJSON(w, status, resp)
	}
}

// requestContext carries the -verbose flag so service logs can decide whether to mask addresses
func (s *Server) requestContext(r *http.Request) context.Context {
	return service.WithVerboseLogging(r.Context(), s.verbose)
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields
func decodeJSON(r *http.Request, v interface{}) error {
	if err := validation.ValidateHTTPRequestSize(r, constants.MaxRequestBodyBytes); err != nil {
		return err
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, constants.MaxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid JSON body").
			WithUserMessage(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

func (s *Server) handleEnqueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.EnqueueRequest
		if err := decodeJSON(r, &req); err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		id, err := s.services.Enqueuer.Enqueue(s.requestContext(r), req)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"id": id})
	}
}

func (s *Server) handleSendNow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.EnqueueRequest
		if err := decodeJSON(r, &req); err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		receipt, err := s.services.Sender.SendNow(s.requestContext(r), req)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, receipt)
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := models.MessageFilter{
			Status:        models.MessageStatus(q.Get("status")),
			MessageType:   q.Get("message_type"),
			CorrelationID: q.Get("correlation_id"),
			Limit:         constants.DefaultListLimit,
		}
		if raw := q.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				httputil.WriteError(w, r, errors.NewValidationError("limit", raw, "limit must be an integer"))
				return
			}
			filter.Limit = limit
		}

		msgs, err := s.services.Admin.List(r.Context(), filter)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if msgs == nil {
			msgs = []*models.QueuedMessage{}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs, "count": len(msgs)})
	}
}

func (s *Server) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := s.services.Admin.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleMessageEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if _, err := s.services.Admin.Get(r.Context(), id); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		events, err := s.services.Admin.Events(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if events == nil {
			events = []*models.DeliveryEvent{}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
	}
}

func (s *Server) handleCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := s.services.Admin.Cancel(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleRetry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := s.services.Admin.Retry(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.services.Admin.Stats(r.Context())
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) handleCleanup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("older_than_days")
		days, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, r, errors.NewValidationError("older_than_days", raw, "older_than_days must be an integer"))
			return
		}

		deleted, err := s.services.Admin.Cleanup(r.Context(), days)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted, "older_than_days": days})
	}
}

type templateRequest struct {
	Category  string   `json:"category"`
	Subject   string   `json:"subject"`
	HTMLBody  string   `json:"html_body"`
	TextBody  string   `json:"text_body"`
	Variables []string `json:"variables"`
	Active    *bool    `json:"active"`
}

func (s *Server) handlePutTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req templateRequest
		if err := decodeJSON(r, &req); err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		tmpl := &models.Template{
			Name:      mux.Vars(r)["name"],
			Category:  req.Category,
			Subject:   req.Subject,
			HTMLBody:  req.HTMLBody,
			TextBody:  req.TextBody,
			Variables: req.Variables,
			Active:    req.Active == nil || *req.Active,
		}

		stored, err := s.services.Templates.Upsert(r.Context(), tmpl)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, stored)
	}
}

func (s *Server) handleGetTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := s.services.Templates.Get(r.Context(), mux.Vars(r)["name"])
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, tmpl)
	}
}
