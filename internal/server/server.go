package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/authorization"
	"github.com/smallbiznis/invoicing/internal/config"
	customerdomain "github.com/smallbiznis/invoicing/internal/customer/domain"
	exchangeratedomain "github.com/smallbiznis/invoicing/internal/exchangerate/domain"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	obslogger "github.com/smallbiznis/invoicing/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/invoicing/internal/observability/metrics"
	obstracing "github.com/smallbiznis/invoicing/internal/observability/tracing"
	organizationdomain "github.com/smallbiznis/invoicing/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/invoicing/internal/payment/domain"
	"github.com/smallbiznis/invoicing/internal/ratelimit"
	reportingdomain "github.com/smallbiznis/invoicing/internal/reporting/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewTokenVerifier),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	tokens          *TokenVerifier
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	customerSvc     customerdomain.Service
	organizationSvc organizationdomain.Service
	exchangeRateSvc exchangeratedomain.Service
	invoiceSvc      invoicedomain.Service
	paymentSvc      paymentdomain.Service
	reportingSvc    reportingdomain.Service
	writeLimiter    writeLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Tokens          *TokenVerifier
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	CustomerSvc     customerdomain.Service
	OrganizationSvc organizationdomain.Service
	ExchangeRateSvc exchangeratedomain.Service
	InvoiceSvc      invoicedomain.Service
	PaymentSvc      paymentdomain.Service
	ReportingSvc    reportingdomain.Service
	WriteLimiter    *ratelimit.WriteLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		tokens:          p.Tokens,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		customerSvc:     p.CustomerSvc,
		organizationSvc: p.OrganizationSvc,
		exchangeRateSvc: p.ExchangeRateSvc,
		invoiceSvc:      p.InvoiceSvc,
		paymentSvc:      p.PaymentSvc,
		reportingSvc:    p.ReportingSvc,
		obsMetrics:      p.ObsMetrics,
	}
	if p.WriteLimiter.Enabled() {
		s.writeLimiter = p.WriteLimiter
	}
	return s
}

// RegisterRoutes mounts the org-scoped API. Every route carries an explicit grant.
func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.BearerAuth())
	api.Use(s.WriteRateLimit())

	invoices := api.Group("/invoices")
	{
		invoices.POST("", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceCreate), s.CreateInvoice)
		invoices.GET("", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoices)
		invoices.POST("/sweep-overdue", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceSweep), s.SweepOverdueInvoices)
		invoices.GET("/:id", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoiceByID)
		invoices.PUT("/:id", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceUpdate), s.UpdateInvoice)
		invoices.DELETE("/:id", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceDelete), s.DeleteInvoice)
		invoices.POST("/:id/status", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceUpdate), s.UpdateInvoiceStatus)
		invoices.POST("/:id/send", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceSend), s.SendInvoice)
		invoices.GET("/:id/pdf", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.DownloadInvoicePDF)
		invoices.GET("/:id/transitions", s.authorizeOrgAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoiceTransitions)
		invoices.GET("/:id/payments", s.authorizeOrgAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.ListInvoicePayments)
		invoices.GET("/:id/payment-summary", s.authorizeOrgAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetInvoicePaymentSummary)
	}

	payments := api.Group("/payments")
	{
		payments.POST("", s.authorizeOrgAction(authorization.ObjectPayment, authorization.ActionPaymentCreate), s.CreatePayment)
		payments.GET("", s.authorizeOrgAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.ListPayments)
		payments.GET("/:id", s.authorizeOrgAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPaymentByID)
		payments.DELETE("/:id", s.authorizeOrgAction(authorization.ObjectPayment, authorization.ActionPaymentDelete), s.DeletePayment)
		payments.GET("/:id/receipt", s.authorizeOrgAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.DownloadPaymentReceipt)
		payments.POST("/:id/receipt/send", s.authorizeOrgAction(authorization.ObjectPayment, authorization.ActionPaymentCreate), s.SendPaymentReceipt)
	}

	customers := api.Group("/customers")
	{
		customers.POST("", s.authorizeOrgAction(authorization.ObjectCustomer, authorization.ActionCustomerManage), s.CreateCustomer)
		customers.GET("", s.authorizeOrgAction(authorization.ObjectCustomer, authorization.ActionCustomerView), s.ListCustomers)
		customers.GET("/:id", s.authorizeOrgAction(authorization.ObjectCustomer, authorization.ActionCustomerView), s.GetCustomerByID)
	}

	rates := api.Group("/exchange-rates")
	{
		rates.PUT("", s.authorizeOrgAction(authorization.ObjectExchangeRate, authorization.ActionExchangeRateManage), s.UpsertExchangeRate)
		rates.GET("", s.authorizeOrgAction(authorization.ObjectExchangeRate, authorization.ActionExchangeRateView), s.ListExchangeRates)
		rates.GET("/:currency/current", s.authorizeOrgAction(authorization.ObjectExchangeRate, authorization.ActionExchangeRateView), s.GetCurrentExchangeRate)
	}

	reports := api.Group("/reports")
	{
		reports.GET("/invoice-stats", s.authorizeOrgAction(authorization.ObjectReport, authorization.ActionReportView), s.GetInvoiceStats)
		reports.GET("/monthly", s.authorizeOrgAction(authorization.ObjectReport, authorization.ActionReportView), s.GetMonthlyRevenue)
		reports.GET("/yearly", s.authorizeOrgAction(authorization.ObjectReport, authorization.ActionReportView), s.GetYearlyRevenue)
	}

	org := api.Group("/organization")
	{
		org.GET("", s.authorizeOrgAction(authorization.ObjectOrganization, authorization.ActionOrganizationView), s.GetOrganization)
		org.PUT("/base-currency", s.authorizeOrgAction(authorization.ObjectOrganization, authorization.ActionOrganizationManage), s.SetBaseCurrency)
		org.POST("/members", s.authorizeOrgAction(authorization.ObjectOrganization, authorization.ActionOrganizationManage), s.AddOrganizationMember)
	}

	api.GET("/audit-logs", s.authorizeOrgAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
