package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poseview/posegate/pkg/gateway"
	"github.com/poseview/posegate/pkg/pose"
	"github.com/poseview/posegate/pkg/rtc"
	"github.com/poseview/posegate/pkg/status"
)

func main() {
	// Parse flags
	var (
		addr        = flag.String("addr", ":8020", "HTTP listen address")
		password    = flag.String("password", "", "shared admission secret for /offer")
		corsOrigin  = flag.String("cors-origin", "*", "allowed cross-origin value")
		poseURL     = flag.String("pose-url", "", "WebSocket URL of the external pose service (empty: loopback transform)")
		stunServers = flag.String("stun", "stun:stun.l.google.com:19302", "comma-separated STUN server URLs")
		turnServers = flag.String("turn", "", "comma-separated TURN server URLs (optional)")
		turnUser    = flag.String("turn-user", "", "TURN username")
		turnPass    = flag.String("turn-pass", "", "TURN credential")
		maxInflight = flag.Int("max-inflight", 2, "maximum concurrent transforms per peer")
		logLevel    = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	// Load from environment if flags not set
	if *password == "" {
		*password = os.Getenv("POSEGATE_PASSWORD")
	}
	if *poseURL == "" {
		*poseURL = os.Getenv("POSEGATE_POSE_URL")
	}
	if *turnServers == "" {
		*turnServers = os.Getenv("POSEGATE_TURN")
	}
	if *turnUser == "" {
		*turnUser = os.Getenv("POSEGATE_TURN_USER")
	}
	if *turnPass == "" {
		*turnPass = os.Getenv("POSEGATE_TURN_PASS")
	}
	if *corsOrigin == "*" {
		if o := os.Getenv("POSEGATE_CORS_ORIGIN"); o != "" {
			*corsOrigin = o
		}
	}
	if *logLevel == "info" {
		if ll := os.Getenv("LOG_LEVEL"); ll != "" {
			*logLevel = ll
		}
	}

	if *password == "" {
		fmt.Fprintf(os.Stderr, "Error: an admission password is required (-password or POSEGATE_PASSWORD)\n")
		os.Exit(1)
	}

	// Setup logging
	logger := setupLogger(*logLevel)
	slog.SetDefault(logger)

	origin := *corsOrigin
	if origin != "*" {
		origin = strings.TrimRight(origin, "/")
	}

	var transformer pose.Transformer
	if *poseURL != "" {
		remote := pose.NewRemoteTransformer(*poseURL, logger)
		defer remote.Close()
		transformer = remote
	} else {
		logger.Warn("no pose service configured, frames are returned untransformed")
		transformer = pose.Loopback{}
	}

	ice := rtc.ICEConfig{STUN: strings.Split(*stunServers, ",")}
	if *turnServers != "" {
		ice.TURN = []rtc.TURNServer{{
			URLs:       strings.Split(*turnServers, ","),
			Username:   *turnUser,
			Credential: *turnPass,
		}}
	}

	gw := gateway.New(gateway.Config{
		Password:    *password,
		ICE:         ice,
		MaxInflight: *maxInflight,
		Logger:      logger,
	}, transformer)
	defer gw.Close()

	statusHandler := status.NewHandler(gw.Status(), origin, logger)

	// Setup HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("POST /offer", gw.HandleOffer)
	mux.Handle("GET /ws", statusHandler)
	mux.HandleFunc("GET /health", gw.HandleHealth)
	mux.HandleFunc("GET /healthz", gw.HandleHealthz)
	mux.HandleFunc("GET /metrics", gw.HandleMetrics)

	server := &http.Server{
		Addr:    *addr,
		Handler: gateway.CORS(origin, mux),
	}

	// Start server in goroutine
	go func() {
		logger.Info("pose gateway listening", "addr", server.Addr, "corsOrigin", origin)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, gracefully shutting down")

	// Graceful shutdown: stop accepting requests, then drop peers and
	// status subscribers (the deferred gw.Close).
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("pose gateway stopped")
}

// setupLogger creates a structured logger
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
