// Command modestd is the demo bootstrap wiring the Engine, ThreadPool,
// Observable, an optional SQL connection, and an HTTP servicer together —
// the exercise surface the rest of the module's packages are built to serve.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r3e-labs/modest/infrastructure/dbconn"
	"github.com/r3e-labs/modest/infrastructure/dbconn/mysql"
	"github.com/r3e-labs/modest/infrastructure/dbconn/postgres"
	"github.com/r3e-labs/modest/infrastructure/httputil"
	"github.com/r3e-labs/modest/pkg/config"
	"github.com/r3e-labs/modest/pkg/logger"
	"github.com/r3e-labs/modest/system/events"
	"github.com/r3e-labs/modest/system/modest"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	certFile := flag.String("tls-cert", "", "TLS certificate file (overrides config; plaintext when empty)")
	keyFile := flag.String("tls-key", "", "TLS key file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLog := logger.New(logger.LoggingConfig(cfg.Logging))

	pool := modest.NewThreadPool(cfg.Pool.Size, time.Duration(cfg.Pool.IdleExpireMs)*time.Millisecond)
	engine := modest.NewEngine(pool)

	observable := events.NewObservable(pool, appLog)
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	observable.Start(rootCtx)
	defer observable.Stop()

	var conn *dbconn.Connection
	if url := strings.TrimSpace(cfg.Database.URL); url != "" {
		conn, err = openDatabase(rootCtx, cfg.Database.Driver, url)
		if err != nil {
			appLog.WithField("error", err).Fatal("connect to database")
		}
		defer conn.Close()
	}

	router := newRouter(appLog, engine, observable, conn)

	listenAddr := resolveAddr(*addr, cfg)
	cert, key := resolveTLS(*certFile, *keyFile, cfg)

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		var err error
		if cert != "" && key != "" {
			appLog.WithField("addr", listenAddr).Info("modestd listening (tls)")
			err = srv.ListenAndServeTLS(cert, key)
		} else {
			appLog.WithField("addr", listenAddr).Info("modestd listening")
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			appLog.WithField("error", err).Fatal("http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool.TerminateAllThreads()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.WithField("error", err).Fatal("shutdown")
	}
}

func openDatabase(ctx context.Context, driver, url string) (*dbconn.Connection, error) {
	switch strings.ToLower(driver) {
	case "mysql":
		conn, _, err := mysql.Open(ctx, url)
		return conn, err
	default:
		conn, _, err := postgres.Open(ctx, url)
		return conn, err
	}
}

// newRouter builds the gin router exposing health, metrics, and the small
// demo surface that exercises Engine/ThreadPool/Observable end to end.
func newRouter(appLog *logger.Logger, engine *modest.Engine, observable *events.Observable, conn *dbconn.Connection) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(ginLogging(appLog))

	outboundClient := &http.Client{
		Transport: httputil.DefaultTransportWithMinTLS12(),
		Timeout:   10 * time.Second,
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// fetch demonstrates an outbound call made over the module's
	// TLS-hardened transport, e.g. for webhook delivery or upstream health
	// probes triggered by an Observable tap.
	r.GET("/fetch", func(c *gin.Context) {
		target := c.Query("url")
		if target == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter required"})
			return
		}
		req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, target, nil)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp, err := outboundClient.Do(req)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		defer resp.Body.Close()
		c.JSON(http.StatusOK, gin.H{"status": resp.StatusCode})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(engine.Registry(), promhttp.HandlerOpts{})))

	r.POST("/events/:id", func(c *gin.Context) {
		id := c.Param("id")
		var payload events.Event
		if err := c.ShouldBindJSON(&payload); err != nil {
			payload = events.Event{}
		}
		stamped := observable.Schedule(payload, id, true)
		c.JSON(http.StatusAccepted, gin.H{"sequenceId": stamped["sequenceId"]})
	})

	r.GET("/state/:key", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"value": engine.State().Get(c.Param("key"))})
	})

	if conn != nil {
		r.GET("/dbhealth", func(c *gin.Context) {
			if _, err := conn.Prepare(c.Request.Context(), "SELECT 1"); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	return r
}

// requestIDMiddleware stamps every request with a UUID so downstream log
// lines and event payloads can be correlated.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

func ginLogging(appLog *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appLog.WithFields(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": c.GetString("request_id"),
		}).Info("request")
	}
}

func resolveAddr(flagAddr string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagAddr); trimmed != "" {
		return trimmed
	}
	host := strings.TrimSpace(cfg.Server.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func resolveTLS(flagCert, flagKey string, cfg *config.Config) (string, string) {
	cert := strings.TrimSpace(flagCert)
	key := strings.TrimSpace(flagKey)
	if cert == "" {
		cert = strings.TrimSpace(cfg.TLS.CertFile)
	}
	if key == "" {
		key = strings.TrimSpace(cfg.TLS.KeyFile)
	}
	return cert, key
}
