package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/config"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewApp builds the fiber app with every route registered.
func NewApp(cfg config.HTTPConfig, h *Handler, log *logrus.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "amabilia-ledger",
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				log.WithError(err).WithField("path", c.Path()).Error("unhandled request error")
			}
			return writeError(c, code, "Request failed", err.Error())
		},
	})

	app.Use(recover.New())
	app.Use(requestMetrics())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	NewRoutes(app, h)
	return app
}

func NewRoutes(app *fiber.App, h *Handler) {
	routerApi := app.Group("/api")

	routerApi.Get("/healthz", func(c *fiber.Ctx) error {
		return writeSuccess(c, fiber.StatusOK, "API is healthy", nil)
	})

	accounts := routerApi.Group("/accounts")
	accounts.Post("/", h.OpenAccount)
	accounts.Get("/:id", h.GetAccount)
	accounts.Get("/:id/wallets", h.ListWallets)
	accounts.Get("/:id/downline", h.Downline)

	wallets := routerApi.Group("/wallets")
	wallets.Get("/:id", h.GetWallet)
	wallets.Get("/:id/balance", h.GetBalance)
	wallets.Get("/:id/entries", h.History)
	wallets.Post("/:id/entries", h.PostEntry)
	wallets.Patch("/:id/active", h.SetActive)

	routerApi.Post("/transfers", h.Transfer)
	routerApi.Get("/causes/:id/entries", h.CauseEntries)

	approvals := routerApi.Group("/approvals")
	approvals.Post("/", h.Submit)
	approvals.Get("/", h.ListApprovals)
	approvals.Get("/:id", h.GetApproval)
	approvals.Post("/:id/approve", h.Approve)
	approvals.Post("/:id/reject", h.Reject)
	approvals.Post("/:id/flag", h.Flag)
	approvals.Post("/:id/unflag", h.Unflag)

	routerApi.Post("/campaigns/:id/completions", h.CompleteCampaign)

	rulesGroup := routerApi.Group("/commission-rules")
	rulesGroup.Get("/", h.CurrentRule)
	rulesGroup.Get("/history", h.RuleHistory)
	rulesGroup.Post("/", h.PublishRule)
}

// requestMetrics records request counts and latency by route pattern.
func requestMetrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Route().Path
		status := c.Response().StatusCode()
		if err != nil {
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		metrics.HttpRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		metrics.ResponseTimeHistogram.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		return err
	}
}
