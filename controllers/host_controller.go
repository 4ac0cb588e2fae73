package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"portpilot/internal/config"
	"portpilot/internal/models"
	"portpilot/internal/store"
	"portpilot/services"

	"github.com/gin-gonic/gin"
)

// HostController handles host definition endpoints
type HostController struct {
	store *store.Store
	sv    *services.Supervisor
}

func NewHostController(st *store.Store, sv *services.Supervisor) *HostController {
	return &HostController{store: st, sv: sv}
}

func (hc *HostController) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/hosts", hc.ListHosts)
	api.POST("/hosts", hc.CreateHost)
	api.GET("/hosts/:id", hc.GetHost)
	api.PUT("/hosts/:id", hc.UpdateHost)
	api.DELETE("/hosts/:id", hc.DeleteHost)
}

func (hc *HostController) hostID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, &models.ErrorResponse{
			Code:  "host.invalid_id",
			Error: "Invalid host id",
		})
		return 0, false
	}
	return id, true
}

// ListHosts lists all host definitions
//
//	@Summary		List hosts
//	@Tags			Hosts
//	@Produce		json
//	@Success		200	{array}	models.Host
//	@Router			/portpilot/api/v1/hosts [get]
func (hc *HostController) ListHosts(c *gin.Context) {
	hosts, err := hc.store.ListHosts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, &models.ErrorResponse{Code: "host.list_failed", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, hosts)
}

// GetHost returns one host and its tunnels
//
//	@Summary		Get host
//	@Tags			Hosts
//	@Produce		json
//	@Param			id	path		int	true	"Host ID"
//	@Success		200	{object}	gin.H
//	@Failure		404	{object}	models.ErrorResponse
//	@Router			/portpilot/api/v1/hosts/{id} [get]
func (hc *HostController) GetHost(c *gin.Context) {
	id, ok := hc.hostID(c)
	if !ok {
		return
	}
	host, err := hc.store.GetHost(id)
	if err != nil {
		c.JSON(http.StatusNotFound, &models.ErrorResponse{Code: "host.not_found", Error: err.Error()})
		return
	}
	tunnels, err := hc.store.ListTunnelsByHost(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, &models.ErrorResponse{Code: "host.list_failed", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"host": host, "tunnels": tunnels})
}

// CreateHost persists a new host definition
//
//	@Summary		Create host
//	@Tags			Hosts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.Host	true	"Host definition"
//	@Success		200		{object}	models.Host
//	@Failure		400		{object}	models.ErrorResponse
//	@Router			/portpilot/api/v1/hosts [post]
func (hc *HostController) CreateHost(c *gin.Context) {
	var host models.Host
	if err := c.ShouldBindJSON(&host); err != nil {
		c.JSON(http.StatusBadRequest, &models.ErrorResponse{
			Code:  "host.invalid_body",
			Error: "Invalid request parameters",
		})
		return
	}
	host.ID = 0
	if err := hc.store.CreateHost(&host); err != nil {
		c.JSON(http.StatusInternalServerError, &models.ErrorResponse{Code: "host.create_failed", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, host)
}

// UpdateHost replaces a host definition; running tunnels keep their process
//
//	@Summary		Update host
//	@Tags			Hosts
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int			true	"Host ID"
//	@Param			body	body		models.Host	true	"Host definition"
//	@Success		200		{object}	models.Host
//	@Failure		404		{object}	models.ErrorResponse
//	@Router			/portpilot/api/v1/hosts/{id} [put]
func (hc *HostController) UpdateHost(c *gin.Context) {
	id, ok := hc.hostID(c)
	if !ok {
		return
	}
	var host models.Host
	if err := c.ShouldBindJSON(&host); err != nil {
		c.JSON(http.StatusBadRequest, &models.ErrorResponse{
			Code:  "host.invalid_body",
			Error: "Invalid request parameters",
		})
		return
	}
	host.ID = id
	if err := hc.store.UpdateHost(&host); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrHostNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, &models.ErrorResponse{Code: "host.update_failed", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, host)
}

// DeleteHost deletes a host and all its tunnel definitions
//
//	@Summary		Delete host
//	@Description	Delete the host and every tunnel defined on it
//	@Tags			Hosts
//	@Produce		json
//	@Param			id	path		int	true	"Host ID"
//	@Success		200	{object}	gin.H
//	@Failure		404	{object}	models.ErrorResponse
//	@Router			/portpilot/api/v1/hosts/{id} [delete]
func (hc *HostController) DeleteHost(c *gin.Context) {
	id, ok := hc.hostID(c)
	if !ok {
		return
	}

	// 先经由监督器摘掉该主机的隧道，运行中的会被停掉
	tunnels, err := hc.store.ListTunnelsByHost(id)
	if err == nil {
		for _, tun := range tunnels {
			if err := hc.sv.RemoveTunnel(tun.ID); err != nil {
				c.JSON(http.StatusInternalServerError, &models.ErrorResponse{
					Code: "host.delete_failed", Error: err.Error()})
				return
			}
		}
	}

	if err := hc.store.DeleteHost(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrHostNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, &models.ErrorResponse{Code: "host.delete_failed", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
