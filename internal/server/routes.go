package server

import (
	"net/http"

	"github.com/rs/cors"
)

// routes configures the ServeMux with all application routes.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", HealthHandler)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.Handler())

	rooms := cors.New(cors.Options{
		AllowedOrigins:   s.origins.corsOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	mux.Handle("/api/rooms", rooms.Handler(http.HandlerFunc(s.handleRooms)))

	mux.HandleFunc("GET /ws/chat/{room}/{$}", s.handleWebSocket)
	mux.HandleFunc("GET /ws/chat/{room}", s.handleWebSocket)
	return mux
}
