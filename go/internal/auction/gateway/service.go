package gateway

import (
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Service is the auction gateway: card sockets plus health and stats.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	allowedOrigins    []string
}

// Config holds configuration for the auction gateway
type Config struct {
	ConnectionConfig ConnectionConfig
	AllowedOrigins   []string
}

// DefaultConfig returns default configuration for the auction gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		AllowedOrigins:   []string{"http://localhost:3000"},
	}
}

// NewService creates a new auction gateway service
func NewService(config Config, backend Backend) *Service {
	cm := NewConnectionManager(config.ConnectionConfig, backend)
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
		allowedOrigins:    config.AllowedOrigins,
	}
}

// Handler returns the HTTP handler with CORS applied.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.wsHandler.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-ID"},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}

// GetStats returns connection statistics
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// Stop closes every socket and waits for running actions.
func (s *Service) Stop() {
	log.Info().Msg("auction gateway shutting down")
	s.connectionManager.Shutdown()
}
