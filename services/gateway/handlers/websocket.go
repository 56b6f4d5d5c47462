// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianApply/pkg/logging"
	"github.com/AleutianAI/AleutianApply/services/changeset/orchestrator"
	"github.com/AleutianAI/AleutianApply/services/gateway/datatypes"
)

const (
	// wsWriteTimeout bounds a single frame write.
	wsWriteTimeout = 10 * time.Second

	// wsPingInterval keeps the connection alive through proxies.
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsEnvelope frames every message sent to the socket.
type wsEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// StreamJob attaches a WebSocket to a running job's progress stream.
//
// # Description
//
// On connect the handler replays buffered history, then relays live
// events until the job finishes, closing with a "result" message that
// carries the stored record. A socket close from the client detaches
// the stream only; the job keeps running.
func StreamJob(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("jobId")
		job, ok := deps.Orchestrator.Get(jobID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no running job: " + jobID})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Log.Error("websocket upgrade failed", "job_id", jobID, "error", err)
			return
		}
		defer ws.Close()

		log := deps.Log.With("job_id", jobID)
		log.Info("websocket stream attached")

		deps.Metrics.StreamStarted("websocket")
		defer deps.Metrics.StreamEnded("websocket")

		// Drain reads so close frames and pongs are processed. The first
		// read error marks the client gone.
		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		history, events, cancelSub := job.Emitter.Subscribe()
		defer cancelSub()

		for _, event := range history {
			if err := sendWS(ws, wsEnvelope{Type: string(event.Type), Payload: event}); err != nil {
				return
			}
		}

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					sendWSResult(c, deps, ws, job, log)
					return
				}
				if err := sendWS(ws, wsEnvelope{Type: string(event.Type), Payload: event}); err != nil {
					log.Info("websocket client disconnected, job continues", "error", err)
					return
				}
			case <-ping.C:
				deadline := time.Now().Add(wsWriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					log.Info("websocket ping failed, job continues", "error", err)
					return
				}
			case <-clientGone:
				log.Info("websocket closed by client, job continues")
				return
			}
		}
	}
}

func sendWSResult(c *gin.Context, deps Deps, ws *websocket.Conn, job *orchestrator.Job, log *logging.Logger) {
	select {
	case <-job.Done():
	case <-c.Request.Context().Done():
		return
	}

	rec, err := deps.Orchestrator.Record(c.Request.Context(), job.ID)
	if err != nil {
		log.Error("failed to load final job record", "error", err)
		return
	}
	if err := sendWS(ws, wsEnvelope{Type: "result", Payload: datatypes.JobFromRecord(rec)}); err != nil {
		return
	}
	deadline := time.Now().Add(wsWriteTimeout)
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func sendWS(ws *websocket.Conn, v any) error {
	ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.WriteJSON(v)
}
