package controllers

import (
	"net/http"
	"time"

	"portpilot/internal/config"
	"portpilot/internal/models"
	"portpilot/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIController struct {
	sv        *services.Supervisor
	version   string
	startTime time.Time
}

/**
 * Create new API controller instance
 * @param {*services.Supervisor} sv - Tunnel supervisor
 * @param {string} version - Build version reported by healthz
 * @returns {*APIController} New API controller instance
 */
func NewAPIController(sv *services.Supervisor, version string) *APIController {
	return &APIController{
		sv:        sv,
		version:   version,
		startTime: time.Now(),
	}
}

func (a *APIController) RegisterRoutes(r *gin.Engine, api *gin.RouterGroup) {
	api.GET("/healthz", a.Healthz)
	api.POST("/reload", a.ReloadConfig)
	r.GET("/healthz", a.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// @Summary 业务就绪探针
// @Description 返回版本、启动时间和各状态隧道的数量
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /healthz [get]
func (a *APIController) Healthz(c *gin.Context) {
	counts := map[models.TunnelState]int{}
	for _, d := range a.sv.List() {
		counts[d.State]++
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   a.version,
		"startTime": a.startTime,
		"tunnels":   counts,
	})
}

// @Summary 重新加载配置
// @Description 重新加载应用配置文件，对已运行的隧道不生效
// @Tags System
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} models.ErrorResponse
// @Router /portpilot/api/v1/reload [post]
func (a *APIController) ReloadConfig(c *gin.Context) {
	if err := config.ReloadConfig(); err != nil {
		c.JSON(http.StatusInternalServerError, &models.ErrorResponse{
			Code:  "config.reload_failed",
			Error: "Failed to reload configuration: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Configuration reloaded successfully",
	})
}
