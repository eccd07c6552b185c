// Package server wires HTTP handlers into a ServeMux for the relay via
// routing helpers.
package server

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up handlers for health check, WebSocket endpoint, stats, metrics and test page.
func SetupRoutes(hub *Hub) *http.ServeMux {
	statsCORS := cors.New(cors.Options{
		AllowedOrigins: hub.origins.corsOrigins(),
		AllowedMethods: []string{http.MethodGet},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", hub.WebSocketHandler)
	mux.HandleFunc("/test", TestPageHandler)
	mux.Handle("/stats", statsCORS.Handler(http.HandlerFunc(hub.StatsHandler)))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
