package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakturly/invoice-ocr-pipeline/api"
	"github.com/fakturly/invoice-ocr-pipeline/internal/ai"
	"github.com/fakturly/invoice-ocr-pipeline/internal/auth"
	"github.com/fakturly/invoice-ocr-pipeline/internal/config"
	"github.com/fakturly/invoice-ocr-pipeline/internal/db"
	"github.com/fakturly/invoice-ocr-pipeline/internal/events"
	"github.com/fakturly/invoice-ocr-pipeline/internal/ocr"
	"github.com/fakturly/invoice-ocr-pipeline/internal/pipeline"
	"github.com/fakturly/invoice-ocr-pipeline/internal/services"
	"github.com/fakturly/invoice-ocr-pipeline/internal/storage"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("LOG_PRETTY") == "true" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Info().Msg("database connection pool initialized")

	store, err := storage.NewStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to connect to object storage: %w", err)
	}
	log.Info().Str("bucket", cfg.Storage.Bucket).Msg("object storage initialized")

	invoices := db.NewInvoiceRepository(pool)
	jobs := db.NewJobRepository(pool)
	logs := db.NewLogRepository(pool)
	corrections := db.NewCorrectionRepository(pool)

	provider, closeProvider, err := buildProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize AI provider: %w", err)
	}
	defer closeProvider()
	log.Info().Str("provider", cfg.AI.DefaultProvider).Msg("AI provider initialized")

	extractor := ai.NewExtractor(provider, log)
	recognizer := ocr.NewTesseractOCR(cfg.OCR.Language, log)

	stepTimeout := time.Duration(cfg.Pipeline.StepTimeoutSeconds) * time.Second
	bus := events.NewBus(cfg.Pipeline.MaxRetries, stepTimeout*6, pipeline.IsNonRetriable, log)

	orchestrator := pipeline.NewOrchestrator(
		invoices, jobs, logs, store, recognizer, extractor, bus,
		pipeline.Config{
			ReviewThreshold: cfg.Pipeline.ReviewThreshold,
			MaxRetries:      cfg.Pipeline.MaxRetries,
			StepTimeout:     stepTimeout,
		},
		log,
	)
	bus.Subscribe(events.TypeInvoiceUploaded, orchestrator.HandleInvoiceUploaded)

	statusSvc := services.NewStatusService(jobs, logs)
	reviewSvc := services.NewReviewService(invoices, corrections)

	handler := api.NewHandler(statusSvc, reviewSvc, invoices, bus, pool, store, cfg, log)
	router := handler.SetupRoutes()

	jwt := auth.NewJWT(cfg.Auth.JWTSecret)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      jwt.Middleware(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
		bus.Wait()
	}()

	log.Info().
		Str("addr", addr).
		Str("ocr_engine", cfg.OCR.Engine).
		Str("ai_provider", cfg.AI.DefaultProvider).
		Msg("starting invoice OCR pipeline")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildProvider selects the extraction backend from config. The returned
// close function releases provider resources on shutdown.
func buildProvider(ctx context.Context, cfg *config.Config) (ai.Provider, func(), error) {
	switch cfg.AI.DefaultProvider {
	case "openai":
		if cfg.AI.OpenAI.APIKey == "" {
			return nil, nil, fmt.Errorf("OPENAI_API_KEY is not configured")
		}
		p := ai.NewOpenAIProvider(cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.BaseURL, cfg.AI.OpenAI.Model)
		return p, func() {}, nil
	case "gemini":
		if cfg.AI.Gemini.APIKey == "" {
			return nil, nil, fmt.Errorf("GEMINI_API_KEY is not configured")
		}
		p, err := ai.NewGeminiProvider(ctx, cfg.AI.Gemini.APIKey, cfg.AI.Gemini.Model)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown AI provider %q", cfg.AI.DefaultProvider)
	}
}
