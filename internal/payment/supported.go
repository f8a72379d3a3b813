package payment

import (
	"net/http"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/gin-gonic/gin"
)

const (
	exactScheme          = "exact"
	supportedX402Version = 1
)

// SupportedHandler handles GET /v1/:stack/supported. A scope without a
// settlement backend supports nothing.
func (s *Service) SupportedHandler(c *gin.Context) {
	scope, apiErr := parseScope(c)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}

	resp := v1.SupportedResponse{Kinds: []v1.SupportedKind{}}
	if s.ledger.Supports(scope) {
		for _, network := range s.networks {
			resp.Kinds = append(resp.Kinds, v1.SupportedKind{
				X402Version: supportedX402Version,
				Scheme:      exactScheme,
				Network:     network,
			})
		}
	}
	c.JSON(http.StatusOK, resp)
}
