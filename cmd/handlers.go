package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"llm-keyring/core"
	"llm-keyring/models"
)

// handleChat 聊天入口：单一统一契约
// Callers only ever see success or all_exhausted; individual key failures
// stay inside the rotation subsystem.
func handleChat(smart *core.SmartClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error: models.ErrorDetail{
					Message: "Invalid request body: " + err.Error(),
					Type:    "invalid_request_error",
				},
			})
			return
		}

		resp, err := smart.Send(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, core.ErrAllExhausted) {
				// Retryable only after an operator-visible delay: cooldowns
				// run from minutes to a day.
				c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
					Error: models.ErrorDetail{
						Message: err.Error(),
						Type:    "all_exhausted",
					},
				})
				return
			}
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error: models.ErrorDetail{Message: err.Error(), Type: "internal_error"},
			})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// handleHealth 健康检查
func handleHealth(pool *core.CredentialPool) gin.HandlerFunc {
	return func(c *gin.Context) {
		names := make([]string, 0, len(pool.Providers()))
		for _, p := range pool.Providers() {
			names = append(names, p.Name())
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"providers": names,
			"timestamp": time.Now().Unix(),
		})
	}
}

// handleStatus 即时状态快照 (观测用途，只读)
func handleStatus(smart *core.SmartClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"providers":        smart.StatusSummary().Providers,
			"current_provider": smart.CurrentProvider(),
			"timestamp":        time.Now().Unix(),
		})
	}
}

// handleClearCooldowns 运维操作：解除冷却
func handleClearCooldowns(smart *core.SmartClient) gin.HandlerFunc {
	type clearRequest struct {
		Providers []string `json:"providers"`
	}
	return func(c *gin.Context) {
		var req clearRequest
		// Empty body means every provider.
		_ = c.ShouldBindJSON(&req)

		cleared := smart.ClearCooldowns(req.Providers...)
		c.JSON(http.StatusOK, gin.H{
			"cleared":   cleared,
			"timestamp": time.Now().Unix(),
		})
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Status stream is read-only observability data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStatusWS 状态推送：每 5 秒一帧快照
func handleStatusWS(smart *core.SmartClient, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warnf("WS upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Drain incoming frames so pings/closes are processed.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		send := func() error {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			return conn.WriteJSON(gin.H{
				"providers":        smart.StatusSummary().Providers,
				"current_provider": smart.CurrentProvider(),
				"timestamp":        time.Now().Unix(),
			})
		}

		if err := send(); err != nil {
			return
		}
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := send(); err != nil {
					return
				}
			}
		}
	}
}
