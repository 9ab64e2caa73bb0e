package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/citybrain/modal-bridge/internal/gateway"
	"github.com/citybrain/modal-bridge/internal/history"
	"github.com/citybrain/modal-bridge/internal/invoker"
	"github.com/citybrain/modal-bridge/internal/metrics"

	_ "github.com/citybrain/modal-bridge/docs" // swagger docs
)

// @title City Brain Modal Bridge API
// @version 1.0
// @description HTTP bridge between the City Brain chat front end and the Modal-deployed urban-planning analysis function.
// @description
// @description Queries are forwarded to the Modal CLI; mixed diagnostic output is parsed into a normalized analysis payload, or passed through raw when parsing fails.

// @contact.name City Brain Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:5001
// @BasePath /api

func main() {
	// Initialize OpenTelemetry
	if err := initTracer(); err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}

	// History is optional: without DATABASE_URL the bridge runs stateless.
	var pool *pgxpool.Pool
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		var err error
		pool, err = pgxpool.New(context.Background(), dbURL)
		if err == nil {
			err = pool.Ping(context.Background())
		}
		if err != nil {
			log.Printf("WARN: history database unavailable, continuing without history: %v", err)
			pool = nil
		} else {
			defer pool.Close()
			log.Println("Connected to history database")
		}
	}

	store := history.NewStore(pool)
	if err := store.EnsureSchema(context.Background()); err != nil {
		log.Printf("WARN: failed to ensure history schema: %v", err)
	}

	requestMetrics, err := metrics.NewRequestMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	modalInvoker := invoker.New()
	handler := gateway.NewHandler(modalInvoker, requestMetrics, store)

	// Setup Gin router
	router := gin.Default()
	router.Use(structuredLoggingMiddleware())
	router.Use(corsMiddleware())

	// Health checks MUST be at the root for the WebService standard
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/ready", func(c *gin.Context) {
		if pool != nil {
			if err := pool.Ping(context.Background()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "not ready",
					"error":  "database connection failed",
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// API routes
	api := router.Group("/api")
	api.POST("/modal", handler.Scenario)
	api.GET("/modal/status", handler.Status)
	api.GET("/history", handler.History)
	api.GET("/ws/chat", handler.ChatSocket)

	// Swagger documentation (public)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Static chat page, when bundled alongside the binary.
	if info, err := os.Stat("./web"); err == nil && info.IsDir() {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir("./web"))))
	}

	// HTTP server configuration
	port := os.Getenv("PORT")
	if port == "" {
		port = "5001"
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Modal cold starts can hold a request for minutes.
		WriteTimeout: 330 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting Modal bridge server on port %s\n", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// initTracer initializes OpenTelemetry tracing
func initTracer() error {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)

	return nil
}

// structuredLoggingMiddleware provides structured JSON logging for all requests
func structuredLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)

		logEntry := map[string]interface{}{
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}

		if len(c.Errors) > 0 {
			logEntry["errors"] = c.Errors.String()
		}

		logJSON, _ := json.Marshal(logEntry)
		log.Println(string(logJSON))
	}
}

// corsMiddleware lets the browser front end call the bridge from any origin,
// matching the open policy of the chat websocket.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
