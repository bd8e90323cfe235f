// Package app wires together configuration, the pion webrtc API, the
// room manager and the HTTP server into one runnable SFU process.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/urfave/negroni/v3"

	"sfu-server/internal/config"
	"sfu-server/internal/metrics"
	"sfu-server/internal/recovery"
	"sfu-server/internal/room"
	"sfu-server/internal/webui"
	"sfu-server/internal/wsconn"
)

// App holds the application's top-level dependencies.
type App struct {
	cfg        *config.Config
	log        logging.LeveledLogger
	api        *webrtc.API
	manager    *room.Manager
	httpServer *http.Server
	cleanup    *time.Ticker
	done       chan struct{}
}

// New loads configuration, builds the webrtc.API, and assembles the
// HTTP server. It does not start listening; call Run for that.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	log := newLogger(cfg)

	api, err := newWebRTCAPI()
	if err != nil {
		return nil, fmt.Errorf("app: build webrtc api: %w", err)
	}

	manager := room.NewManager(cfg.MaxParticipantsPerRoom, log)

	a := &App{
		cfg:     cfg,
		log:     log,
		api:     api,
		manager: manager,
		done:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	a.registerRoutes(mux)

	n := negroni.New()
	n.Use(negroni.NewLogger())
	n.Use(negroni.HandlerFunc(func(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		recovery.RecoveryMiddleware(log, next).ServeHTTP(w, r)
	}))
	n.UseHandler(mux)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.Port),
		Handler:      n,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

// newWebRTCAPI builds one pion API shared by every peer connection,
// with the default codec set and the default interceptor chain (RTCP
// reports, NACK, twcc) registered once at startup.
func newWebRTCAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	), nil
}

func (a *App) webRTCConfig() webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(a.cfg.ICEServers))
	for _, s := range a.cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return webrtc.Configuration{ICEServers: iceServers}
}

func (a *App) registerRoutes(mux *http.ServeMux) {
	h := &wsconn.Handler{
		Manager:      a.manager,
		API:          a.api,
		WebRTCConfig: a.webRTCConfig(),
		Logger:       a.log,
		JoinTimeout:  a.cfg.ConnectionTimeout(),
	}

	mux.Handle("/ws", h)
	mux.HandleFunc("/", webui.Handler("/ws"))
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/metrics", a.metricsHandler)
	mux.HandleFunc("/rooms", a.roomsHandler)
}

// Run starts the HTTP server and blocks until a shutdown signal or
// fatal server error, then tears down gracefully.
func (a *App) Run() error {
	a.cleanup = time.NewTicker(a.cfg.CleanupInterval())
	go a.cleanupLoop()

	serverErrors := make(chan error, 1)
	go func() {
		a.log.Infof("listening on %s", a.httpServer.Addr)
		if a.cfg.TLSEnabled {
			serverErrors <- a.httpServer.ListenAndServeTLS(a.cfg.TLSCertPath, a.cfg.TLSKeyPath)
			return
		}
		serverErrors <- a.httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.log.Infof("received signal %v, shutting down", sig)
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			a.log.Errorf("server error: %v", err)
			return err
		}
	}

	close(a.done)
	a.cleanup.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.log.Errorf("server shutdown error: %v", err)
		return err
	}
	a.log.Infof("shutdown complete")
	return nil
}

func (a *App) cleanupLoop() {
	for {
		select {
		case <-a.cleanup.C:
			if n := a.manager.CleanupEmptyRooms(); n > 0 {
				a.log.Debugf("cleaned up %d empty room(s)", n)
			}
		case <-a.done:
			return
		}
	}
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"rooms":     a.manager.RoomCount(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	m := metrics.Get()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"active_connections":        m.ActiveConnections,
		"total_connections_created": m.TotalConnectionsCreated,
		"total_connections_closed":  m.TotalConnectionsClosed,
		"total_messages_processed":  m.TotalMessagesProcessed,
		"total_tracks_added":        m.TotalTracksAdded,
		"total_tracks_removed":      m.TotalTracksRemoved,
		"rooms_active":              a.manager.RoomCount(),
		"uptime_seconds":            int(m.Uptime().Seconds()),
		"timestamp":                 time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *App) roomsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(a.manager.Snapshot())
}

func newLogger(cfg *config.Config) logging.LeveledLogger {
	factory := logging.NewDefaultLoggerFactory()
	if cfg.VerboseLogging {
		factory.DefaultLogLevel = logging.LogLevelDebug
	} else {
		factory.DefaultLogLevel = logging.LogLevelInfo
	}
	return factory.NewLogger("sfu-server")
}
