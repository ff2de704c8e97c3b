package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/domainrecon/models"
)

// Resolver is the subset of *orchestrator.Orchestrator the handler depends
// on.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (*models.DomainResponse, error)
}

// Domains returns a handler for GET /domains?domain=<raw>.
func Domains(o Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("domain")
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "missing required query parameter: domain",
				"code":  models.ErrCodeBadDomain,
			})
			return
		}

		resp, err := o.Resolve(c.Request.Context(), raw)
		if err != nil {
			writeError(c, err)
			return
		}

		if resp.Status == "blocked" && resp.Reason == "forbidden" {
			c.JSON(http.StatusForbidden, gin.H{
				"code":   models.ErrCodeForbidden,
				"domain": resp.Domain,
				"reason": resp.Reason,
			})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func writeError(c *gin.Context, err error) {
	var reconErr *models.ReconError
	if errors.As(err, &reconErr) {
		switch reconErr.Code {
		case models.ErrCodeBadDomain:
			c.JSON(http.StatusBadRequest, gin.H{"error": reconErr.Message, "code": reconErr.Code})
		case models.ErrCodeForbidden:
			c.JSON(http.StatusForbidden, gin.H{"code": reconErr.Code})
		case models.ErrCodeTimeout:
			c.JSON(http.StatusGatewayTimeout, gin.H{"code": reconErr.Code})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"code": models.ErrCodeInternal})
		}
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusGatewayTimeout, gin.H{"code": models.ErrCodeTimeout})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"code": models.ErrCodeInternal})
}
