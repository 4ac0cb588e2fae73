package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"portpilot/internal/config"
	"portpilot/internal/models"
	"portpilot/internal/sshcmd"
	"portpilot/services"

	"github.com/gin-gonic/gin"
)

// TunnelController handles tunnel-related HTTP requests
type TunnelController struct {
	sv *services.Supervisor
}

// NewTunnelController creates a new TunnelController bound to the supervisor
func NewTunnelController(sv *services.Supervisor) *TunnelController {
	return &TunnelController{sv: sv}
}

/**
 * Register all tunnel routes to Gin engine
 * @param {*gin.RouterGroup} api - /portpilot/api/v1 route group
 * @description
 * - Lifecycle: start/stop/restart per tunnel, bulk start/stop
 * - Definitions: list/get/create/update/delete
 * - Streams: log snapshot or follow, state event stream
 */
func (tc *TunnelController) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/tunnels", tc.ListTunnels)
	api.POST("/tunnels", tc.CreateTunnel)
	api.POST("/tunnels/start", tc.StartAll)
	api.POST("/tunnels/stop", tc.StopAll)
	api.GET("/tunnels/:id", tc.GetTunnel)
	api.PUT("/tunnels/:id", tc.UpdateTunnel)
	api.DELETE("/tunnels/:id", tc.DeleteTunnel)
	api.POST("/tunnels/:id/start", tc.StartTunnel)
	api.POST("/tunnels/:id/stop", tc.StopTunnel)
	api.POST("/tunnels/:id/restart", tc.RestartTunnel)
	api.GET("/tunnels/:id/logs", tc.TunnelLogs)
	api.GET("/tunnels/:id/events", tc.TunnelEvents)
}

func (tc *TunnelController) tunnelID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, &models.ErrorResponse{
			Code:  "tunnel.invalid_id",
			Error: "Invalid tunnel id",
		})
		return 0, false
	}
	return id, true
}

// startErrorStatus 启动失败的HTTP状态码：定义问题算客户端错误
func startErrorStatus(err error) int {
	if errors.Is(err, sshcmd.ErrInvalidDefinition) {
		return http.StatusBadRequest
	}
	if errors.Is(err, config.ErrTunnelNotFound) || errors.Is(err, config.ErrHostNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// ListTunnels lists all tunnels with their live state
//
//	@Summary		List tunnels
//	@Description	List all tunnel definitions with current state and last run
//	@Tags			Tunnels
//	@Produce		json
//	@Success		200	{array}		models.TunnelDetail
//	@Router			/portpilot/api/v1/tunnels [get]
func (tc *TunnelController) ListTunnels(c *gin.Context) {
	c.JSON(http.StatusOK, tc.sv.List())
}

// GetTunnel returns one tunnel's definition and live state
//
//	@Summary		Get tunnel
//	@Tags			Tunnels
//	@Produce		json
//	@Param			id	path		int	true	"Tunnel ID"
//	@Success		200	{object}	models.TunnelDetail
//	@Failure		404	{object}	models.ErrorResponse
//	@Router			/portpilot/api/v1/tunnels/{id} [get]
func (tc *TunnelController) GetTunnel(c *gin.Context) {
	id, ok := tc.tunnelID(c)
	if !ok {
		return
	}
	ti, err := tc.sv.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, &models.ErrorResponse{Code: "tunnel.not_found", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ti.Detail())
}

// CreateTunnel persists a new tunnel definition
//
//	@Summary		Create tunnel
//	@Tags			Tunnels
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.Tunnel	true	"Tunnel definition"
//	@Success		200		{object}	models.Tunnel
//	@Failure		400		{object}	models.ErrorResponse
//	@Router			/portpilot/api/v1/tunnels [post]
func (tc *TunnelController) CreateTunnel(c *gin.Context) {
	var def models.Tunnel
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, &models.ErrorResponse{
			Code:  "tunnel.invalid_body",
			Error: "Invalid request parameters",
		})
		return
	}
	def.ID = 0
	if err := tc.sv.AddTunnel(&def); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrHostNotFound) {
			status = http.StatusBadRequest
		}
		c.JSON(status, &models.ErrorResponse{Code: "tunnel.create_failed", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, def)
}

// UpdateTunnel replaces a tunnel definition; takes effect on next start
//
//	@Summary		Update tunnel
//	@Tags			Tunnels
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int				true	"Tunnel ID"
//	@Param			body	body		models.Tunnel	true	"Tunnel definition"
//	@Success		200		{object}	models.Tunnel
//	@Failure		404		{object}	models.ErrorResponse
//	@Router			/portpilot/api/v1/tunnels/{id} [put]
func (tc *TunnelController) UpdateTunnel(c *gin.Context) {
	id, ok := tc.tunnelID(c)
	if !ok {
		return
	}
	var def models.Tunnel
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, &models.ErrorResponse{
			Code:  "tunnel.invalid_body",
			Error: "Invalid request parameters",
		})
		return
	}
	def.ID = id
	if err := tc.sv.UpdateTunnel(&def); err != nil {
		c.JSON(startErrorStatus(err), &models.ErrorResponse{Code: "tunnel.update_failed", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, def)
}

// DeleteTunnel stops the tunnel if running and deletes its definition
//
//	@Summary		Delete tunnel
//	@Tags			Tunnels
//	@Produce		json
//	@Param			id	path		int	true	"Tunnel ID"
//	@Success		200	{object}	models.TunnelResponse
//	@Failure		404	{object}	models.ErrorResponse
//	@Router			/portpilot/api/v1/tunnels/{id} [delete]
func (tc *TunnelController) DeleteTunnel(c *gin.Context) {
	id, ok := tc.tunnelID(c)
	if !ok {
		return
	}
	if err := tc.sv.RemoveTunnel(id); err != nil {
		c.JSON(startErrorStatus(err), &models.ErrorResponse{Code: "tunnel.delete_failed", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, &models.TunnelResponse{TunnelID: id, Status: "success"})
}

// StartTunnel starts one tunnel
//
//	@Summary		Start tunnel
//	@Description	Spawn the ssh process for the tunnel; no-op when already running
//	@Tags			Tunnels
//	@Produce		json
//	@Param			id	path		int	true	"Tunnel ID"
//	@Success		200	{object}	models.TunnelResponse
//	@Failure		400	{object}	models.ErrorResponse	"Invalid definition"
//	@Failure		404	{object}	models.ErrorResponse
//	@Failure		500	{object}	models.ErrorResponse	"Spawn failure"
//	@Router			/portpilot/api/v1/tunnels/{id}/start [post]
func (tc *TunnelController) StartTunnel(c *gin.Context) {
	id, ok := tc.tunnelID(c)
	if !ok {
		return
	}
	ti, err := tc.sv.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, &models.ErrorResponse{Code: "tunnel.not_found", Error: err.Error()})
		return
	}
	if err := ti.Start(); err != nil {
		c.JSON(startErrorStatus(err), &models.ErrorResponse{Code: "tunnel.start_failed", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, &models.TunnelResponse{TunnelID: id, State: ti.State(), Status: "success"})
}

// StopTunnel stops one tunnel
//
//	@Summary		Stop tunnel
//	@Description	Terminate the ssh process; no-op when not running
//	@Tags			Tunnels
//	@Produce		json
//	@Param			id	path		int	true	"Tunnel ID"
//	@Success		200	{object}	models.TunnelResponse
//	@Failure		404	{object}	models.ErrorResponse
//	@Router			/portpilot/api/v1/tunnels/{id}/stop [post]
func (tc *TunnelController) StopTunnel(c *gin.Context) {
	id, ok := tc.tunnelID(c)
	if !ok {
		return
	}
	ti, err := tc.sv.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, &models.ErrorResponse{Code: "tunnel.not_found", Error: err.Error()})
		return
	}
	if err := ti.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, &models.ErrorResponse{Code: "tunnel.stop_failed", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, &models.TunnelResponse{TunnelID: id, State: ti.State(), Status: "success"})
}

// RestartTunnel stops then starts one tunnel
//
//	@Summary		Restart tunnel
//	@Tags			Tunnels
//	@Produce		json
//	@Param			id	path		int	true	"Tunnel ID"
//	@Success		200	{object}	models.TunnelResponse
//	@Failure		404	{object}	models.ErrorResponse
//	@Router			/portpilot/api/v1/tunnels/{id}/restart [post]
func (tc *TunnelController) RestartTunnel(c *gin.Context) {
	id, ok := tc.tunnelID(c)
	if !ok {
		return
	}
	ti, err := tc.sv.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, &models.ErrorResponse{Code: "tunnel.not_found", Error: err.Error()})
		return
	}
	if err := ti.Restart(); err != nil {
		c.JSON(startErrorStatus(err), &models.ErrorResponse{Code: "tunnel.restart_failed", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, &models.TunnelResponse{TunnelID: id, State: ti.State(), Status: "success"})
}

// StartAll starts every tunnel concurrently
//
//	@Summary		Start all tunnels
//	@Description	Start every tunnel; failures are reported per tunnel, partial success is normal
//	@Tags			Tunnels
//	@Produce		json
//	@Success		200	{array}	models.BulkResult
//	@Router			/portpilot/api/v1/tunnels/start [post]
func (tc *TunnelController) StartAll(c *gin.Context) {
	c.JSON(http.StatusOK, tc.sv.StartAll())
}

// StopAll stops every tunnel concurrently
//
//	@Summary		Stop all tunnels
//	@Tags			Tunnels
//	@Produce		json
//	@Success		200	{array}	models.BulkResult
//	@Router			/portpilot/api/v1/tunnels/stop [post]
func (tc *TunnelController) StopAll(c *gin.Context) {
	c.JSON(http.StatusOK, tc.sv.StopAll())
}

// TunnelLogs returns buffered log lines, optionally following live output
//
//	@Summary		Tunnel logs
//	@Description	Return the in-memory log buffer; with follow=true, stream live lines as SSE
//	@Tags			Tunnels
//	@Produce		json
//	@Param			id		path	int		true	"Tunnel ID"
//	@Param			follow	query	bool	false	"Stream live lines after the snapshot"
//	@Param			tail	query	int		false	"Only return the last N buffered lines"
//	@Success		200	{array}	models.LogLine
//	@Failure		404	{object}	models.ErrorResponse
//	@Router			/portpilot/api/v1/tunnels/{id}/logs [get]
func (tc *TunnelController) TunnelLogs(c *gin.Context) {
	id, ok := tc.tunnelID(c)
	if !ok {
		return
	}
	ti, err := tc.sv.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, &models.ErrorResponse{Code: "tunnel.not_found", Error: err.Error()})
		return
	}

	if c.Query("follow") != "true" {
		lines := ti.Hub().Snapshot()
		if tail, err := strconv.Atoi(c.Query("tail")); err == nil && tail > 0 && tail < len(lines) {
			lines = lines[len(lines)-tail:]
		}
		c.JSON(http.StatusOK, lines)
		return
	}

	snapshot, live, cancel := ti.Hub().Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	for _, line := range snapshot {
		c.SSEvent("log", line)
	}
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case line, ok := <-live:
			if !ok {
				return false
			}
			c.SSEvent("log", line)
			return true
		case <-clientGone:
			return false
		}
	})
}

// TunnelEvents streams state transition events as SSE
//
//	@Summary		Tunnel state events
//	@Description	Server-sent event stream of state transitions for one tunnel
//	@Tags			Tunnels
//	@Produce		text/event-stream
//	@Param			id	path	int	true	"Tunnel ID"
//	@Failure		404	{object}	models.ErrorResponse
//	@Router			/portpilot/api/v1/tunnels/{id}/events [get]
func (tc *TunnelController) TunnelEvents(c *gin.Context) {
	id, ok := tc.tunnelID(c)
	if !ok {
		return
	}
	if _, err := tc.sv.Get(id); err != nil {
		c.JSON(http.StatusNotFound, &models.ErrorResponse{Code: "tunnel.not_found", Error: err.Error()})
		return
	}

	events, cancel := tc.sv.Events().Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if ev.TunnelID == id {
				c.SSEvent("state", ev)
			}
			return true
		case <-clientGone:
			return false
		}
	})
}
