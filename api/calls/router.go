// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package calls_api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

// HealthCheck reports one component's liveness; nil error means healthy.
type HealthCheck func() error

// NewEngine builds the gin engine with admission and health routes. checks
// maps component names to readiness probes registered by the controller.
func NewEngine(service CallService, checks map[string]HealthCheck, logger commons.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	api := NewCallApi(service, logger)
	group := engine.Group("/api/calls")
	{
		group.POST("", api.RegisterCall)
		group.GET("", api.ListCalls)
		group.GET("/:callId", api.GetCall)
		group.DELETE("/:callId", api.EndCall)
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/readiness", func(c *gin.Context) {
		components := gin.H{}
		healthy := true
		for name, check := range checks {
			if err := check(); err != nil {
				healthy = false
				components[name] = err.Error()
			} else {
				components[name] = "ok"
			}
		}
		code := http.StatusOK
		status := "ready"
		if !healthy {
			code = http.StatusServiceUnavailable
			status = "not_ready"
		}
		c.JSON(code, gin.H{"status": status, "components": components})
	})

	return engine
}
