package api

import (
	"github.com/gin-gonic/gin"

	"github.com/use-agent/domainrecon/api/handler"
)

// NewRouter creates a configured Gin engine exposing the two-endpoint
// surface: domain resolution and a liveness probe.
//
// Middleware chain: Recovery → Logger, applied globally. There is no auth
// or rate-limit layer — this service is meant to sit behind an internal
// gateway that already owns those concerns.
func NewRouter(resolver handler.Resolver) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", handler.Health())
	r.GET("/domains", handler.Domains(resolver))

	return r
}
