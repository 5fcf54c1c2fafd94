// Package httpapi exposes the payment core over REST. Handlers are thin:
// bind JSON, call the usecase, map the payment error taxonomy to statuses.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"walletd/internal/config"
	"walletd/internal/infra/keys"
	"walletd/internal/infra/transport"
	"walletd/internal/usecase"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine

	payments *usecase.PaymentService
	auditor  *usecase.SecurityAuditor
	keys     *keys.Manager
}

type ServerDeps struct {
	Payments *usecase.PaymentService
	Auditor  *usecase.SecurityAuditor
	Keys     *keys.Manager
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(hardening())

	s := &Server{
		cfg:      cfg,
		r:        r,
		payments: deps.Payments,
		auditor:  deps.Auditor,
		keys:     deps.Keys,
	}
	s.routes()
	return s
}

// hardening attaches the static security header set to every response.
func hardening() gin.HandlerFunc {
	return func(c *gin.Context) {
		for name, value := range transport.HardeningHeaders {
			c.Header(name, value)
		}
		c.Next()
	}
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "env": s.cfg.Environment})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/payments/deposit", s.handleDeposit)
		v1.POST("/payments/withdraw", s.handleWithdraw)
		v1.POST("/payments/exchange", s.handleExchange)
		v1.GET("/payments/methods", s.handleMethods)
		v1.GET("/payments/wallets", s.handleCryptoWallets)
		v1.GET("/payments/rates", s.handleRate)
		v1.GET("/payments/transactions", s.handleTransactions)
		v1.GET("/security/events", s.handleSecurityEvents)
		v1.POST("/keys/rotate", s.handleRotateKeys)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, 404, "not_found", "route not found")
	})
}

// Handler exposes the router for httptest servers.
func (s *Server) Handler() *gin.Engine {
	return s.r
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}
