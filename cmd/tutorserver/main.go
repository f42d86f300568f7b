package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/NavaneethWKT/Tuition-master-sub000/adapters/llm"
	"github.com/NavaneethWKT/Tuition-master-sub000/adapters/tts"
	"github.com/NavaneethWKT/Tuition-master-sub000/domain/repositories"
	"github.com/NavaneethWKT/Tuition-master-sub000/internal/auth"
	"github.com/NavaneethWKT/Tuition-master-sub000/internal/config"
	"github.com/NavaneethWKT/Tuition-master-sub000/internal/tutorserver"
	"github.com/NavaneethWKT/Tuition-master-sub000/usecase"
)

const toneSampleRate = 24000

func main() {
	if err := config.LoadEnv(); err != nil {
		panic(err)
	}

	cfg, err := config.NewServerConfigFromEnv()
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tutorLLM, err := newLLM(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize tutor model", zap.Error(err))
	}

	speech, err := newTTS(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech synthesis", zap.Error(err))
	}

	var issuer *auth.TokenIssuer
	if cfg.JWTSecret != "" {
		issuer, err = auth.NewTokenIssuer(cfg.JWTSecret)
		if err != nil {
			logger.Fatal("Failed to initialize token issuer", zap.Error(err))
		}
		if cfg.IssuerKey == "" {
			logger.Warn("TUTOR_ISSUER_KEY is not set, the token endpoint is disabled")
		}
	} else {
		logger.Warn("TUTOR_JWT_SECRET is not set, websocket authentication is disabled")
	}

	service := usecase.NewTutorService(tutorLLM, speech, logger)
	hub := tutorserver.NewHub(service, logger)
	go hub.Run(ctx)

	reaper := tutorserver.NewIdleReaper(hub, time.Minute, cfg.IdleTimeout, logger)
	reaper.Start()
	defer reaper.Stop()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	tutorserver.InitRoutes(e, hub, issuer, cfg.IssuerKey, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Tutor server started",
		zap.String("port", cfg.Port),
		zap.Bool("auth", issuer != nil),
		zap.Bool("speech", service.SpeechEnabled()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLLM(ctx context.Context, cfg config.ServerConfig, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	if cfg.GeminiKey == "" {
		logger.Warn("GEMINI_API_KEY is not set, using the mock tutor")
		return llm.NewMockTutor(), nil
	}
	return llm.NewGeminiTutor(ctx, llm.GeminiConfig{
		APIKey: cfg.GeminiKey,
		Model:  cfg.GeminiModel,
	}, logger)
}

func newTTS(cfg config.ServerConfig, logger *zap.Logger) (repositories.TextToSpeech, error) {
	speech := cfg.Speech
	if speech == config.SpeechAuto {
		speech = config.SpeechTone
		if os.Getenv("ELEVEN_LABS_API_KEY") != "" {
			speech = config.SpeechElevenLabs
		}
	}

	switch speech {
	case config.SpeechElevenLabs:
		elevenCfg, err := tts.NewElevenLabsConfigFromEnv()
		if err != nil {
			return nil, err
		}
		return tts.NewElevenLabsTTS(elevenCfg, logger)
	case config.SpeechTone:
		logger.Info("Using tone speech synthesis")
		return tts.NewToneTTS(toneSampleRate), nil
	default:
		return nil, nil
	}
}
