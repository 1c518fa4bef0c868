// Package main is the entry point of the application
package main

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Connections int    `json:"connections"`
	ActiveGames int    `json:"activeGames"`
	TotalGames  int    `json:"totalGames"`
	Engines     int    `json:"engines"`
}

// handleHealth handles the GET /health endpoint
func (app *application) handleHealth(w http.ResponseWriter, _ *http.Request) {
	active, total := app.Manager.Count()

	resp := healthResponse{
		Status:      "ok",
		Uptime:      time.Since(app.StartTime).Round(time.Second).String(),
		Connections: app.Hub.ConnectionCount(),
		ActiveGames: active,
		TotalGames:  total,
	}
	if app.Engines != nil {
		resp.Engines = app.Engines.Size()
	}

	writeJSON(w, http.StatusOK, resp)
}
