// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docgen

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// HandleProgressStream handles GET /v1/docgen/ws/:id.
//
// Description:
//
//	Upgrades to a WebSocket and streams the run's events as JSON
//	messages. The stream starts with a replay of the run so far, then
//	follows live events, and closes normally after the terminal event.
//	Messages from the client are ignored; a client close ends the stream.
//
// Response:
//
//	101 Switching Protocols: event stream
//	404 Not Found: Unknown run, or a run from an earlier process
func (h *Handlers) HandleProgressStream(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	id := c.Param("id")
	logger := slog.With("request_id", requestID, "handler", "HandleProgressStream", "run_id", id)

	run, ok := h.svc.Run(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Task not found",
			Code:  "TASK_NOT_FOUND",
		})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	sub := run.Subscribe()
	metrics := h.svc.Metrics()
	metrics.SubscriberAttached()
	defer func() {
		sub.Close()
		metrics.SubscriberDetached(sub.Lagged())
	}()
	logger.Info("Progress subscriber connected")

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			logger.Info("Progress subscriber disconnected", "lagged", sub.Lagged())
			return
		case e, ok := <-sub.Events():
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(wsWriteTimeout))
				logger.Info("Progress stream finished", "lagged", sub.Lagged())
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteJSON(e); err != nil {
				logger.Warn("Failed to write WebSocket JSON", "error", err)
				return
			}
		}
	}
}
