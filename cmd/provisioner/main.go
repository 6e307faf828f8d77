package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/ledger"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/money"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/notification"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/aws"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/cache"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/config"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/worker"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/pool"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/positions"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/provision"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/quote"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/signer"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/submit"
)

func main() {
	// Create root context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad("config.yaml")

	// Setup observability (foundational - must be first)
	log.Println("Setting up observability...")
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("liquidity-provisioner", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, "liquidity-provisioner", cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracer.Shutdown(ctx)

	logger.Info("observability setup complete")

	// Setup infrastructure
	logger.Info("setting up infrastructure...")

	// Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.LogError(ctx, "failed to create Redis cache", err)
		log.Fatalf("Failed to create Redis cache: %v", err)
	}
	defer redisCache.Close()

	// Memory cache
	memCache := cache.NewMemoryCache(cfg.Cache.L1MaxSize)
	defer memCache.Close()

	// Layered cache
	layeredCache := cache.NewLayeredCacheWithConfig(cache.LayeredCacheConfig{
		L1:       memCache,
		L2:       redisCache,
		Observer: metrics,
	})

	// Ledger client pool
	logger.Info("connecting to Solana RPC...")
	endpoints := make([]ledger.EndpointConfig, len(cfg.Solana.RPCEndpoints))
	for i, ep := range cfg.Solana.RPCEndpoints {
		endpoints[i] = ledger.EndpointConfig{
			URL:    ep.URL,
			Weight: ep.Weight,
		}
	}

	clientPool, err := ledger.NewPool(ledger.PoolConfig{
		Endpoints: endpoints,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create RPC client pool", err)
		log.Fatalf("Failed to create RPC client pool: %v", err)
	}
	defer clientPool.Close()

	reader := ledger.NewReader(ledger.ReaderConfig{
		Pool:       clientPool,
		Commitment: rpc.CommitmentType(cfg.Solana.Commitment),
		Logger:     logger,
		Metrics:    metrics,
	})

	// Remote signing service
	signerClient, err := signer.NewClient(signer.ClientConfig{
		BaseURL: cfg.Signer.URL,
		Timeout: cfg.Signer.Timeout,
		Logger:  logger,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create signer client", err)
		log.Fatalf("Failed to create signer client: %v", err)
	}

	// Swap quote service
	quoteClient, err := quote.NewClient(quote.ClientConfig{
		BaseURL:        cfg.Quote.BaseURL,
		Timeout:        cfg.Quote.Timeout,
		RateLimitRPM:   cfg.Quote.RateLimitRPM,
		RateLimitBurst: cfg.Quote.RateLimitBurst,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create quote client", err)
		log.Fatalf("Failed to create quote client: %v", err)
	}

	// Submission paths
	confirmer := submit.NewConfirmer(reader, logger, metrics)
	direct := submit.NewDirect(signerClient, reader, confirmer, submit.DirectConfig{
		SettleDelay:        cfg.Provision.SettleDelay,
		ConfirmTimeout:     cfg.Provision.ConfirmTimeout,
		StaleHandleRetries: cfg.Provision.StaleHandleRetries,
	}, logger, metrics)
	relay := submit.NewRelay(signerClient, reader, submit.RelayConfig{
		URL:          cfg.Relay.URL,
		TipLamports:  cfg.Relay.TipLamports,
		Timeout:      cfg.Relay.BundleTimeout,
		PollInterval: cfg.Relay.PollInterval,
	}, logger, metrics)
	engine := submit.NewEngine(direct, relay, logger)

	// Notification publisher
	logger.Info("creating notification publisher...")
	var notifier provision.Notifier
	if cfg.AWS.Enabled {
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region})
		if err != nil {
			logger.LogError(ctx, "failed to load AWS config", err)
			log.Fatalf("Failed to load AWS config: %v", err)
		}

		snsClient := aws.NewSNSClient(aws.SNSClientConfig{
			AWSConfig: awsCfg,
			Logger:    logger,
			Metrics:   metrics,
		})

		publisher, err := notification.NewPublisher(notification.PublisherConfig{
			SNSClient: snsClient,
			TopicARN:  cfg.AWS.SNSTopicARN,
			Logger:    logger,
			Tracer:    observability.NewTracer("liquidity-provisioner"),
		})
		if err != nil {
			logger.LogError(ctx, "failed to create publisher", err)
			log.Fatalf("Failed to create publisher: %v", err)
		}
		notifier = publisher
	} else {
		notifier = notification.NewNoOpPublisher(logger)
	}

	// Position listing backed by the layered cache
	positionsSvc := positions.NewService(
		positions.NewLedgerScanner(reader),
		layeredCache,
		cfg.Cache.L2TTL,
		logger,
		metrics,
	)

	// Provisioning pipeline
	logger.Info("creating provisioning pipeline...")
	assembler := provision.NewAssembler(provision.AssemblerConfig{
		ComputeUnitLimit:              cfg.Provision.ComputeUnitLimit,
		ComputeUnitPriceMicroLamports: cfg.Provision.ComputeUnitPriceMicroLamports,
	})
	feeCfg := provision.FeeConfig{
		Bps:       money.BPS(cfg.Provision.FeeBps),
		Dust:      money.TokenAmount(cfg.Provision.FeeDustLamports),
		Collector: cfg.Provision.FeeCollectorKey(),
	}
	pipeline := provision.NewPipeline(
		provision.NewLedgerGateway(reader),
		quoteClient,
		engine,
		assembler,
		feeCfg,
		provision.PipelineConfig{QuoteTimeout: cfg.Provision.QuoteTimeout},
		logger,
		metrics,
	).WithInvalidator(positionsSvc).WithNotifier(notifier)

	// Intent worker pool. The pool size caps how many intents are in
	// flight; the queue absorbs short bursts and sheds beyond that.
	intentPool := worker.NewPoolWithConfig(ctx, worker.PoolConfig{
		Workers:   cfg.Provision.MaxConcurrentIntents,
		QueueSize: cfg.Provision.MaxConcurrentIntents * 2,
	})
	go drainResults(ctx, intentPool, logger)

	// Start HTTP server for intent intake, health checks and metrics
	logger.Info("starting HTTP server...")
	srv := &server{
		pipeline:  pipeline,
		positions: positionsSvc,
		pool:      intentPool,
		logger:    logger,
	}
	httpServer := startHTTPServer(cfg.HTTP.Port, srv, metrics, logger)

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("liquidity provisioner running",
		"http_port", cfg.HTTP.Port,
		"max_concurrent_intents", cfg.Provision.MaxConcurrentIntents,
	)

	// Wait for shutdown signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully stopping...")

	// Stop intake first, then let queued intents finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "HTTP server shutdown failed", err)
	}
	intentPool.Close()
	logger.Info("application stopped")
}

// drainResults logs terminal intent outcomes from the worker pool.
func drainResults(ctx context.Context, pool *worker.Pool, logger *observability.Logger) {
	for {
		select {
		case res, ok := <-pool.Results():
			if !ok {
				return
			}
			if res.Err != nil {
				logger.LogError(ctx, "intent failed", res.Err, "intent_id", res.JobID)
				continue
			}
			if receipt, ok := res.Value.(*provision.Receipt); ok && receipt.Result != nil {
				logger.Info("intent finished",
					"intent_id", res.JobID,
					"outcome", string(receipt.Result.Outcome),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

// server holds the HTTP handler dependencies.
type server struct {
	pipeline  *provision.Pipeline
	positions *positions.Service
	pool      *worker.Pool
	logger    *observability.Logger
}

// intentRequest is the intake wire format.
type intentRequest struct {
	Funder        string `json:"funder"`
	Pool          string `json:"pool"`
	Model         string `json:"model"`
	FundingMint   string `json:"fundingMint"`
	FundingAmount uint64 `json:"fundingAmount"`
	Strategy      string `json:"strategy"`
	SlippageBps   uint64 `json:"slippageBps"`
	Mode          string `json:"mode"`
	TipSpeed      string `json:"tipSpeed,omitempty"`
	SkipTip       bool   `json:"skipTip,omitempty"`
}

func (s *server) handleIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}

	intent, err := parseIntent(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := worker.Job{
		ID: intent.ID.String(),
		Execute: func(ctx context.Context) (interface{}, error) {
			return s.pipeline.Execute(ctx, intent)
		},
	}
	if err := s.pool.TrySubmit(job); err != nil {
		if errors.Is(err, worker.ErrBackpressure) {
			writeError(w, http.StatusServiceUnavailable, "intent queue full")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "service shutting down")
		return
	}

	s.logger.Info("intent accepted",
		"intent_id", intent.ID.String(),
		"pool", intent.PoolAddress.String(),
		"model", string(intent.Model),
		"mode", string(intent.Mode),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"intentId": intent.ID.String()})
}

func (s *server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	owner, err := solana.PublicKeyFromBase58(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid owner: %v", err))
		return
	}

	list, err := s.positions.List(r.Context(), owner)
	if err != nil {
		s.logger.LogError(r.Context(), "position listing failed", err, "owner", owner.String())
		writeError(w, http.StatusBadGateway, "position listing failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"positions": list})
}

// parseIntent validates the wire request into a provisioning intent.
func parseIntent(req *intentRequest) (*provision.Intent, error) {
	funder, err := solana.PublicKeyFromBase58(req.Funder)
	if err != nil {
		return nil, fmt.Errorf("invalid funder: %w", err)
	}
	poolAddr, err := solana.PublicKeyFromBase58(req.Pool)
	if err != nil {
		return nil, fmt.Errorf("invalid pool: %w", err)
	}
	fundingMint, err := solana.PublicKeyFromBase58(req.FundingMint)
	if err != nil {
		return nil, fmt.Errorf("invalid fundingMint: %w", err)
	}
	model, err := pool.ParseModel(req.Model)
	if err != nil {
		return nil, err
	}
	strategy, err := pool.ParseStrategy(req.Strategy)
	if err != nil {
		return nil, err
	}
	mode, err := submit.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}

	intent, err := provision.NewIntent(funder, poolAddr, model, fundingMint,
		money.TokenAmount(req.FundingAmount), strategy, money.BPS(req.SlippageBps), mode)
	if err != nil {
		return nil, err
	}
	intent.TipSpeed = submit.TipSpeed(req.TipSpeed)
	intent.SkipTip = req.SkipTip
	return intent, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// startHTTPServer starts the HTTP server for intent intake, health checks
// and metrics.
func startHTTPServer(port int, srv *server, metrics *observability.Metrics, logger *observability.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/intents", srv.handleIntent)
	mux.HandleFunc("/positions", srv.handlePositions)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Readiness check
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("HTTP server listening", "address", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogError(context.Background(), "HTTP server error", err)
		}
	}()

	return server
}
