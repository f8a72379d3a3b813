package payment

import (
	"github.com/aevon-lab/x402-facilitator/internal/customer"
	"github.com/aevon-lab/x402-facilitator/internal/eventlog"
	"github.com/aevon-lab/x402-facilitator/internal/ledger"
	"github.com/aevon-lab/x402-facilitator/internal/stream"
	"github.com/gin-gonic/gin"
)

// Service exposes the ledger, the event log and the customer registry over HTTP.
type Service struct {
	ledger           *ledger.Ledger
	events           *eventlog.Log
	streams          *stream.Manager
	customers        *customer.Registry
	networks         []string
	maxBodySizeBytes int
}

func NewService(
	l *ledger.Ledger,
	events *eventlog.Log,
	streams *stream.Manager,
	customers *customer.Registry,
	networks []string,
	maxBodySizeMB int,
) *Service {
	if l == nil {
		panic("payment: ledger must not be nil")
	}
	if events == nil {
		panic("payment: event log must not be nil")
	}
	if streams == nil {
		panic("payment: stream manager must not be nil")
	}
	if customers == nil {
		panic("payment: customer registry must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		ledger:           l,
		events:           events,
		streams:          streams,
		customers:        customers,
		networks:         networks,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the payment routes. Every stack-scoped route takes
// ?sandbox=true to address the sandbox environment.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	stack := r.Group("/v1/:stack")
	stack.POST("/verify", s.VerifyHandler)
	stack.POST("/settle", s.SettleHandler)
	stack.GET("/transactions", s.ListTransactionsHandler)
	stack.GET("/transactions/:transaction_id", s.GetTransactionHandler)
	stack.GET("/events", s.EventsHandler)
	stack.GET("/supported", s.SupportedHandler)

	r.GET("/v1/customers/:address", s.GetCustomerHandler)
	r.PUT("/v1/customers/:address", s.RegisterCustomerHandler)
	r.PATCH("/v1/customers/:address", s.RelabelCustomerHandler)
}
