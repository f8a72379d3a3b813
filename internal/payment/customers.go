package payment

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type relabelBody struct {
	Label string `json:"label"`
}

// RegisterCustomerHandler handles PUT /v1/customers/:address. It creates the
// customer ahead of its first payment; an existing customer is returned as is.
func (s *Service) RegisterCustomerHandler(c *gin.Context) {
	var body relabelBody
	if apiErr := s.bindBody(c, &body); apiErr != nil {
		writeError(c, apiErr)
		return
	}

	cust, err := s.customers.Ensure(c.Request.Context(), c.Param("address"), body.Label)
	if err != nil {
		writeError(c, mapError(err))
		return
	}
	c.JSON(http.StatusOK, cust)
}

// GetCustomerHandler handles GET /v1/customers/:address.
func (s *Service) GetCustomerHandler(c *gin.Context) {
	cust, err := s.customers.GetByAddress(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, mapError(err))
		return
	}
	c.JSON(http.StatusOK, cust)
}

// RelabelCustomerHandler handles PATCH /v1/customers/:address.
func (s *Service) RelabelCustomerHandler(c *gin.Context) {
	var body relabelBody
	if apiErr := s.bindBody(c, &body); apiErr != nil {
		writeError(c, apiErr)
		return
	}

	cust, err := s.customers.Relabel(c.Request.Context(), c.Param("address"), body.Label)
	if err != nil {
		writeError(c, mapError(err))
		return
	}
	c.JSON(http.StatusOK, cust)
}
