// Package status exposes bridge state to the operator UI as a JSON API.
package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/bridge"
	"github.com/zulandar/switchboard/internal/models"
)

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Registry *bridge.Registry
	Port     int
	Out      io.Writer
}

// Start launches the status HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Registry == nil {
		return fmt.Errorf("status: registry is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts.Registry)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Status API listening on :%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status: %w", err)
	}
	return nil
}

// registerRoutes sets up all status routes on the Gin router.
func registerRoutes(router *gin.Engine, reg *bridge.Registry) {
	api := router.Group("/api")
	api.GET("/tenants", handleTenantList(reg))
	api.GET("/tenants/:id", handleTenantStatus(reg))
	api.POST("/tenants/:id", handleTenantCreate(reg))
	api.DELETE("/tenants/:id", handleTenantRemove(reg))
	api.PATCH("/tenants/:id/settings", handleTenantSettings(reg))
	api.POST("/tenants/:id/reconnect", handleReconnect(reg))
	api.POST("/tenants/:id/disconnect", handleDisconnect(reg))
	api.POST("/channels/:id/close", handleCloseTicket(reg))
}

func handleTenantList(reg *bridge.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenants": reg.Statuses()})
	}
}

func handleTenantStatus(reg *bridge.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, ok := reg.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		c.JSON(http.StatusOK, inst.Status())
	}
}

func handleTenantCreate(reg *bridge.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, err := reg.Create(c.Request.Context(), c.Param("id"), c.Query("name"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, inst.Status())
	}
}

func handleTenantRemove(reg *bridge.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := reg.Remove(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": c.Param("id")})
	}
}

// settingsRequest mirrors models.SettingsPatch with JSON names. Absent
// fields stay nil and keep their stored value.
type settingsRequest struct {
	Name              *string `json:"name"`
	CategoryID        *string `json:"categoryId"`
	OpsChannelID      *string `json:"opsChannelId"`
	GreetingTemplate  *string `json:"greetingTemplate"`
	ClosingTemplate   *string `json:"closingTemplate"`
	GreetNewContacts  *bool   `json:"greetNewContacts"`
	SendClosingNotice *bool   `json:"sendClosingNotice"`
}

func handleTenantSettings(reg *bridge.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req settingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tenant, err := reg.UpdateSettings(c.Request.Context(), c.Param("id"), models.SettingsPatch{
			Name:              req.Name,
			CategoryID:        req.CategoryID,
			OpsChannelID:      req.OpsChannelID,
			GreetingTemplate:  req.GreetingTemplate,
			ClosingTemplate:   req.ClosingTemplate,
			GreetNewContacts:  req.GreetNewContacts,
			SendClosingNotice: req.SendClosingNotice,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"tenantId":          tenant.TenantID,
			"name":              tenant.Name,
			"greetNewContacts":  tenant.GreetNewContacts,
			"sendClosingNotice": tenant.SendClosingNotice,
		})
	}
}

func handleReconnect(reg *bridge.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, ok := reg.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		if err := inst.Supervisor().Reconnect(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, inst.Status())
	}
}

func handleDisconnect(reg *bridge.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, ok := reg.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		logout := c.Query("logout") == "true"
		if err := inst.Supervisor().Disconnect(c.Request.Context(), logout); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, inst.Status())
	}
}

func handleCloseTicket(reg *bridge.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		channelID := c.Param("id")
		inst, ok := reg.GetByChannel(channelID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no tenant owns this channel"})
			return
		}
		notice := c.Query("notice") != "false"
		if err := inst.Routing().CloseTicket(c.Request.Context(), channelID, notice); err != nil {
			if errors.Is(err, bridge.ErrTicketNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"closed": channelID})
	}
}
