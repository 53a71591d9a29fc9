// Package main is the entry point for the flux aggregator server, an
// off-chain port of the flux-monitor price feed: oracles submit values
// into rounds over HTTP, the engine aggregates them into a median
// answer and pays each accepted submission from the feed's token
// balance.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/flux-aggregator/internal/alert"
	"github.com/yourorg/flux-aggregator/internal/config"
	"github.com/yourorg/flux-aggregator/internal/flux"
	"github.com/yourorg/flux-aggregator/internal/model"
	"github.com/yourorg/flux-aggregator/internal/otel"
	"github.com/yourorg/flux-aggregator/internal/relay"
	"github.com/yourorg/flux-aggregator/internal/security"
	"github.com/yourorg/flux-aggregator/internal/store"
	"github.com/yourorg/flux-aggregator/internal/token"
	"github.com/yourorg/flux-aggregator/internal/validator"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server wires the aggregation engine to its HTTP surface and the
// supporting services around it.
type Server struct {
	cfg *config.Config

	engine *flux.Aggregator
	tok    *token.SimToken

	verifier *security.Verifier
	flags    *validator.Flags

	db       *store.Store
	relay    *relay.Relay
	notifier *alert.Notifier

	metrics   *serverMetrics
	rateLimit *rate.Limiter

	server *http.Server
}

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	submissionCounter *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	latestAnswer      prometheus.Gauge
	latestRound       prometheus.Gauge
	availableFunds    prometheus.Gauge
	oracleCount       prometheus.Gauge
	validatorFailures prometheus.Counter
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		submissionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flux_submissions_total",
				Help: "Total number of oracle submissions processed",
			},
			[]string{"status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flux_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		latestAnswer: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flux_latest_answer",
				Help: "Most recently computed aggregate answer",
			},
		),
		latestRound: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flux_latest_round",
				Help: "Most recently answered round id",
			},
		),
		availableFunds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flux_available_funds",
				Help: "Token balance available for oracle payments",
			},
		),
		oracleCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flux_oracle_count",
				Help: "Number of enabled oracles",
			},
		),
		validatorFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flux_validator_failures_total",
				Help: "Answer validator failures swallowed by the engine",
			},
		),
	}

	prometheus.MustRegister(
		m.submissionCounter,
		m.requestDuration,
		m.latestAnswer,
		m.latestRound,
		m.availableFunds,
		m.oracleCount,
		m.validatorFailures,
	)

	return m
}

// main is the entry point for the application
func main() {
	cfg, err := config.Load(os.Getenv("FLUX_CONFIG"))
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg.Logging)

	ctx := context.Background()
	if cfg.Otel.Enabled {
		shutdown, err := otel.InitTracer(ctx, cfg.Otel.Endpoint)
		if err != nil {
			logrus.Warnf("Failed to initialize tracing: %v", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					logrus.Warnf("Tracer shutdown failed: %v", err)
				}
			}()
			logrus.Info("Tracing initialized")
		}
	}

	server, err := NewServer(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize server: %v", err)
	}
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging(cfg config.LoggingConfig) {
	switch strings.ToLower(cfg.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	logrus.Info("Logging configured")
}

// NewServer builds the engine and its collaborators from configuration,
// restoring persisted state when present.
func NewServer(cfg *config.Config) (*Server, error) {
	metrics := registerMetrics()

	tok := token.NewSimToken()

	var flags *validator.Flags
	var safe *validator.Safe
	if cfg.Validator.Enabled {
		flags = validator.NewFlags()
		dv := validator.NewDeviationFlagging(flags, cfg.Feed.Description, cfg.Validator.FlaggingThreshold)
		safe = validator.NewSafe(dv, 0).WithFailureHook(func(error) {
			metrics.validatorFailures.Inc()
		})
	}

	feedCfg := flux.Config{
		Owner:              common.HexToAddress(cfg.Feed.Owner),
		Address:            common.HexToAddress(cfg.Feed.Address),
		PaymentAmount:      config.BigInt(cfg.Feed.PaymentAmount),
		Timeout:            cfg.Feed.Timeout,
		MinSubmissionValue: config.BigInt(cfg.Feed.MinSubmissionValue),
		MaxSubmissionValue: config.BigInt(cfg.Feed.MaxSubmissionValue),
		Decimals:           cfg.Feed.Decimals,
		Description:        cfg.Feed.Description,
	}

	var opts []flux.Option
	if safe != nil {
		opts = append(opts, flux.WithValidator(safe))
	}
	engine := flux.New(tok, feedCfg, opts...)

	db := store.New(cfg.Storage.Path, cfg.Storage.MaxEvents)
	persisted, err := db.Load()
	if err != nil {
		logrus.Warnf("Failed to load persisted state, starting fresh: %v", err)
	}
	if persisted != nil && persisted.Engine != nil {
		engine.Restore(persisted.Engine)
		tok.SetBalances(persisted.Balances)
		logrus.WithFields(logrus.Fields{
			"saved_at":        persisted.SavedAt,
			"reporting_round": engine.ReportingRound(),
		}).Info("Restored persisted state")
	} else {
		tok.Mint(feedCfg.Owner, config.BigInt(cfg.Feed.InitialSupply))
	}

	// The funding hook must be live before any TransferAndCall arrives.
	tok.RegisterReceiver(feedCfg.Address, engine)

	s := &Server{
		cfg:       cfg,
		engine:    engine,
		tok:       tok,
		verifier:  security.NewVerifier(cfg.Feed.Description, cfg.Security.RequireSignatures),
		flags:     flags,
		db:        db,
		metrics:   metrics,
		rateLimit: rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst),
	}

	if cfg.Relay.Enabled {
		s.relay = relay.New(relay.Config{
			URL:           cfg.Relay.URL,
			APIKey:        cfg.Relay.APIKey,
			BatchSize:     cfg.Relay.BatchSize,
			FlushInterval: cfg.Relay.FlushInterval,
		})
		logrus.Info("Event relay initialized")
	}

	if cfg.Telegram.Enabled {
		notifier, err := alert.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logrus.Warnf("Failed to initialize Telegram alerts: %v", err)
		} else {
			s.notifier = notifier
			if s.flags != nil {
				s.flags.WithRaiseHook(func(subject string) {
					s.notifier.FlagRaised(subject)
				})
			}
			logrus.Info("Telegram alerts initialized")
		}
	}

	logrus.WithFields(logrus.Fields{
		"port":        cfg.Server.Port,
		"description": cfg.Feed.Description,
		"decimals":    cfg.Feed.Decimals,
		"timeout":     cfg.Feed.Timeout,
		"validator":   cfg.Validator.Enabled,
		"relay":       cfg.Relay.Enabled,
	}).Info("Server initialized")

	return s, nil
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	mux := http.NewServeMux()

	// Oracle surface
	mux.HandleFunc("/submit", s.handleSubmit)
	mux.HandleFunc("/oracle/state", s.handleOracleRoundState)
	mux.HandleFunc("/oracle/transfer-admin", s.handleTransferAdmin)
	mux.HandleFunc("/oracle/accept-admin", s.handleAcceptAdmin)
	mux.HandleFunc("/oracle/withdraw-payment", s.handleWithdrawPayment)

	// Read surface
	mux.HandleFunc("/feed", s.handleFeed)
	mux.HandleFunc("/rounds/latest", s.handleLatestRoundData)
	mux.HandleFunc("/rounds/data", s.handleRoundData)
	mux.HandleFunc("/rounds/request", s.handleRequestNewRound)

	// Owner surface
	mux.HandleFunc("/admin/oracles", s.handleChangeOracles)
	mux.HandleFunc("/admin/config", s.handleUpdateFutureRounds)
	mux.HandleFunc("/admin/requesters", s.handleSetRequesterPermissions)
	mux.HandleFunc("/admin/withdraw-funds", s.handleWithdrawFunds)
	mux.HandleFunc("/admin/transfer-ownership", s.handleTransferOwnership)
	mux.HandleFunc("/admin/accept-ownership", s.handleAcceptOwnership)

	// Funds surface
	mux.HandleFunc("/funds", s.handleFunds)
	mux.HandleFunc("/funds/deposit", s.handleDeposit)
	mux.HandleFunc("/funds/refresh", s.handleRefreshFunds)

	// Operational surface
	mux.HandleFunc("/oracles", s.handleOracles)
	mux.HandleFunc("/flags", s.handleFlags)
	mux.HandleFunc("/flags/lower", s.handleLowerFlag)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	saveCtx, stopSaving := context.WithCancel(context.Background())
	go s.saveLoop(saveCtx)

	go func() {
		logrus.Infof("Server starting on port %d", s.cfg.Server.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}

	stopSaving()
	if s.relay != nil {
		s.relay.Stop()
	}
	if err := s.save(); err != nil {
		logrus.Errorf("Final state save failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// saveLoop persists state on the configured interval.
func (s *Server) saveLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Storage.SaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.save(); err != nil {
				logrus.Errorf("Periodic state save failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) save() error {
	return s.db.Save(s.engine.Snapshot(), s.tok.Balances())
}

// dispatch fans accepted events out to the store, the relay, metrics
// and alerting. Mutating handlers call it exactly once on success.
func (s *Server) dispatch(events []model.Event) {
	if len(events) == 0 {
		return
	}
	s.db.Append(events)
	if s.relay != nil {
		s.relay.Publish(events)
	}
	for _, ev := range events {
		switch ev.Type {
		case model.EventAnswerUpdated:
			s.metrics.latestAnswer.Set(bigFloat(ev.Value))
			s.metrics.latestRound.Set(float64(ev.Round))
			if s.notifier != nil {
				s.notifier.AnswerUpdated(s.cfg.Feed.Description, ev.Round, ev.Value)
			}
		case model.EventAvailableFundsUpdated:
			s.metrics.availableFunds.Set(bigFloat(ev.Value))
		case model.EventOraclePermissionsUpdated:
			s.metrics.oracleCount.Set(float64(s.engine.OracleCount()))
		}
	}
}

// submitRequest is the oracle submission payload. The signature covers
// the feed description, round id and value; it is optional unless the
// server requires signatures.
type submitRequest struct {
	Oracle    string `json:"oracle"`
	Round     uint32 `json:"round"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		s.metrics.requestDuration.WithLabelValues("submit").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.rateLimit.Allow() {
		s.errorResponse(w, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded"))
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	oracle, err := parseAddress(req.Oracle)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	value, err := parseBig(req.Value)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	_, span := otel.Tracer().Start(r.Context(), "submit")
	defer span.End()

	sig, err := parseSignature(req.Signature)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := s.verifier.Verify(oracle, req.Round, value, sig); err != nil {
		s.metrics.submissionCounter.WithLabelValues("rejected").Inc()
		s.errorResponse(w, http.StatusUnauthorized, err)
		return
	}

	events, err := s.engine.Submit(oracle, req.Round, value)
	if err != nil {
		s.metrics.submissionCounter.WithLabelValues("rejected").Inc()
		s.engineError(w, err)
		return
	}
	s.metrics.submissionCounter.WithLabelValues("accepted").Inc()
	s.dispatch(events)

	logrus.WithFields(logrus.Fields{
		"oracle": oracle.Hex(),
		"round":  req.Round,
	}).Debug("Submission accepted")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"round":  req.Round,
		"events": events,
	})
}

func (s *Server) handleOracleRoundState(w http.ResponseWriter, r *http.Request) {
	oracle, err := parseAddress(r.URL.Query().Get("oracle"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	round, err := parseRound(r.URL.Query().Get("round"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.OracleRoundState(oracle, round))
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"description":      s.engine.Description(),
		"decimals":         s.engine.Decimals(),
		"version":          flux.Version,
		"latest_answer":    s.engine.LatestAnswer().String(),
		"latest_timestamp": s.engine.LatestTimestamp(),
		"latest_round":     s.engine.LatestRound(),
		"reporting_round":  s.engine.ReportingRound(),
	})
}

func (s *Server) handleLatestRoundData(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.LatestRoundData()
	if err != nil {
		s.engineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roundDataResponse(data))
}

func (s *Server) handleRoundData(w http.ResponseWriter, r *http.Request) {
	round, err := parseRound(r.URL.Query().Get("round"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	// legacy=true selects the zero-on-missing read surface
	if r.URL.Query().Get("legacy") == "true" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"round":     round,
			"answer":    s.engine.GetAnswer(round).String(),
			"timestamp": s.engine.GetTimestamp(round),
		})
		return
	}

	data, err := s.engine.RoundData(round)
	if err != nil {
		s.engineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roundDataResponse(data))
}

func (s *Server) handleRequestNewRound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Requester string `json:"requester"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	requester, err := parseAddress(req.Requester)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	round, events, err := s.engine.RequestNewRound(requester)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.dispatch(events)
	writeJSON(w, http.StatusOK, map[string]interface{}{"round": round})
}

// changeOraclesRequest mirrors the owner's batch registry update.
type changeOraclesRequest struct {
	Caller         string   `json:"caller"`
	Removed        []string `json:"removed"`
	Added          []string `json:"added"`
	AddedAdmins    []string `json:"added_admins"`
	MinSubmissions uint32   `json:"min_submissions"`
	MaxSubmissions uint32   `json:"max_submissions"`
	RestartDelay   uint32   `json:"restart_delay"`
}

func (s *Server) handleChangeOracles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req changeOraclesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	removed, err := parseAddresses(req.Removed)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	added, err := parseAddresses(req.Added)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	admins, err := parseAddresses(req.AddedAdmins)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.engine.ChangeOracles(caller, removed, added, admins, req.MinSubmissions, req.MaxSubmissions, req.RestartDelay)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.dispatch(events)
	s.metrics.oracleCount.Set(float64(s.engine.OracleCount()))

	logrus.WithFields(logrus.Fields{
		"removed": len(removed),
		"added":   len(added),
		"count":   s.engine.OracleCount(),
	}).Info("Oracle set changed")

	writeJSON(w, http.StatusOK, map[string]interface{}{"oracle_count": s.engine.OracleCount()})
}

// updateConfigRequest re-tunes round parameters for future rounds.
type updateConfigRequest struct {
	Caller         string `json:"caller"`
	PaymentAmount  string `json:"payment_amount"`
	MinSubmissions uint32 `json:"min_submissions"`
	MaxSubmissions uint32 `json:"max_submissions"`
	RestartDelay   uint32 `json:"restart_delay"`
	Timeout        uint32 `json:"timeout"`
}

func (s *Server) handleUpdateFutureRounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	payment, err := parseBig(req.PaymentAmount)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.engine.UpdateFutureRounds(caller, model.RoundConfig{
		PaymentAmount:      payment,
		MinSubmissionCount: req.MinSubmissions,
		MaxSubmissionCount: req.MaxSubmissions,
		RestartDelay:       req.RestartDelay,
		Timeout:            req.Timeout,
	})
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.dispatch(events)
	writeJSON(w, http.StatusOK, s.engine.RoundConfig())
}

func (s *Server) handleSetRequesterPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Caller     string `json:"caller"`
		Requester  string `json:"requester"`
		Authorized bool   `json:"authorized"`
		Delay      uint32 `json:"delay"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	requester, err := parseAddress(req.Requester)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.engine.SetRequesterPermissions(caller, requester, req.Authorized, req.Delay)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.dispatch(events)
	writeJSON(w, http.StatusOK, map[string]interface{}{"authorized": req.Authorized})
}

func (s *Server) handleWithdrawFunds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Caller    string `json:"caller"`
		Recipient string `json:"recipient"`
		Amount    string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.engine.WithdrawFunds(caller, recipient, amount)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.dispatch(events)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": s.engine.AvailableFunds().String(),
	})
}

func (s *Server) handleWithdrawPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Caller    string `json:"caller"`
		Oracle    string `json:"oracle"`
		Recipient string `json:"recipient"`
		Amount    string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	oracle, err := parseAddress(req.Oracle)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.engine.WithdrawPayment(caller, oracle, recipient, amount)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.dispatch(events)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"withdrawable": s.engine.WithdrawablePayment(oracle).String(),
	})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	s.twoPartyCall(w, r, func(caller, to common.Address) ([]model.Event, error) {
		return s.engine.TransferOwnership(caller, to)
	})
}

func (s *Server) handleAcceptOwnership(w http.ResponseWriter, r *http.Request) {
	s.onePartyCall(w, r, func(caller common.Address) ([]model.Event, error) {
		return s.engine.AcceptOwnership(caller)
	})
}

func (s *Server) handleTransferAdmin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Caller   string `json:"caller"`
		Oracle   string `json:"oracle"`
		NewAdmin string `json:"new_admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	oracle, err := parseAddress(req.Oracle)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	newAdmin, err := parseAddress(req.NewAdmin)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.engine.TransferAdmin(caller, oracle, newAdmin)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.dispatch(events)
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending_admin": newAdmin.Hex()})
}

func (s *Server) handleAcceptAdmin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Caller string `json:"caller"`
		Oracle string `json:"oracle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	oracle, err := parseAddress(req.Oracle)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.engine.AcceptAdmin(caller, oracle)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.dispatch(events)
	writeJSON(w, http.StatusOK, map[string]interface{}{"admin": caller.Hex()})
}

func (s *Server) handleFunds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": s.engine.AvailableFunds().String(),
		"allocated": s.engine.AllocatedFunds().String(),
		"balance":   s.tok.BalanceOf(s.engine.Address()).String(),
	})
}

// handleDeposit funds the feed via the token's transfer-and-call path,
// which drives the engine's funding hook.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		From   string `json:"from"`
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	from, err := parseAddress(req.From)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	if err := s.tok.TransferAndCall(from, s.engine.Address(), amount, nil); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": s.engine.AvailableFunds().String(),
	})
}

func (s *Server) handleRefreshFunds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.dispatch(s.engine.UpdateAvailableFunds())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": s.engine.AvailableFunds().String(),
	})
}

func (s *Server) handleOracles(w http.ResponseWriter, r *http.Request) {
	oracles := s.engine.Oracles()
	list := make([]map[string]interface{}, 0, len(oracles))
	for _, addr := range oracles {
		list = append(list, map[string]interface{}{
			"address":      addr.Hex(),
			"admin":        s.engine.OracleAdmin(addr).Hex(),
			"withdrawable": s.engine.WithdrawablePayment(addr).String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(oracles),
		"oracles": list,
	})
}

func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	if s.flags == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"raised": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"raised": s.flags.Raised()})
}

// handleLowerFlag clears a raised deviation flag. Owner only.
func (s *Server) handleLowerFlag(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Caller  string `json:"caller"`
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if caller != s.engine.Owner() {
		s.engineError(w, flux.ErrNotOwner)
		return
	}
	if s.flags != nil {
		s.flags.Lower(req.Subject)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")
	if since == "" {
		writeJSON(w, http.StatusOK, s.db.Events())
		return
	}
	t, err := time.Parse(time.RFC3339, since)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid since timestamp: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, s.db.EventsSince(t))
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":          "operational",
		"uptime":          time.Since(startTime).String(),
		"version":         flux.Version,
		"description":     s.engine.Description(),
		"decimals":        s.engine.Decimals(),
		"owner":           s.engine.Owner().Hex(),
		"oracle_count":    s.engine.OracleCount(),
		"reporting_round": s.engine.ReportingRound(),
		"latest_round":    s.engine.LatestRound(),
		"available":       s.engine.AvailableFunds().String(),
		"allocated":       s.engine.AllocatedFunds().String(),
	}
	if min, max, spread, count := s.engine.ReportingRoundStats(); count > 0 {
		status["round_submissions"] = count
		status["round_min"] = min.String()
		status["round_max"] = max.String()
		status["round_spread"] = spread.String()
	}
	if s.flags != nil {
		status["flags_raised"] = len(s.flags.Raised())
	}
	writeJSON(w, http.StatusOK, status)
}

func roundDataResponse(data model.RoundData) map[string]interface{} {
	return map[string]interface{}{
		"round_id":          data.RoundID,
		"answer":            data.Answer.String(),
		"started_at":        data.StartedAt,
		"updated_at":        data.UpdatedAt,
		"answered_in_round": data.AnsweredInRound,
	}
}

func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
