// Package main is the entry point of the application
package main

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/arena-server/internal/auth"
	"github.com/tecu23/arena-server/pkg/server"
)

// newUpgrader accepts browser origins from the allow list. Requests without
// an Origin header come from non-browser clients and are let through.
func newUpgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,

		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
}

// handleWebSocket handles WebSocket connections. A missing or invalid token
// leaves the connection open as anonymous.
func (app *application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var identity auth.Identity
	if token := auth.TokenFromRequest(r); token != "" {
		id, err := app.Tokens.Authenticate(token)
		if err != nil {
			app.Logger.Debug("rejected websocket token", zap.Error(err))
		} else {
			identity = id
		}
	}

	// Upgrade HTTP connection to WebSocket
	ws, err := app.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.Logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	// Create and register connection
	conn := server.NewConnection(ws, app.Hub, identity, app.Logger)
	app.Hub.Register(conn)

	app.Logger.Info("WebSocket connection established",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("authenticated", conn.Authenticated()))

	// Start connection read/write goroutines
	go conn.WritePump()
	go conn.ReadPump()
}
