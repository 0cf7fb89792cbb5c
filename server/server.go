// Package server provides the HTTP API: REST endpoints for scanning directories and SBOMs,
// the GraphQL endpoint and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/graphql-go/graphql"
	gqlschema "github.com/ortelius/lockscan/graphql"
	"github.com/ortelius/lockscan/metrics"
	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/rules"
	"github.com/ortelius/lockscan/util"
	"go.uber.org/zap"
)

// AppName is reported by fiber and the health endpoint.
const AppName = "lockscan API v1.0"

// ScanRequest is the body of POST /api/v1/scan and POST /api/v1/sbom
type ScanRequest struct {
	Path   string   `json:"path"`
	Ignore []string `json:"ignore,omitempty"`
	CVE    string   `json:"cve,omitempty"`
}

// ErrorResponse returns the reason a request failed
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type handlers struct {
	resolver *gqlschema.Resolver
	logger   *zap.Logger
}

// New builds the fiber app. recorder may be nil, in which case /metrics is not served.
func New(resolver *gqlschema.Resolver, recorder *metrics.Recorder, logger *zap.Logger) (*fiber.App, error) {
	logger = util.OrNop(logger)

	schema, err := gqlschema.CreateSchema(resolver)
	if err != nil {
		return nil, err
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:     AppName,
		BodyLimit:   4 * 1024 * 1024,
		ReadTimeout: time.Second * 60,
	})

	// Middleware
	app.Use(fiberrecover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New())

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
		})
	})

	if recorder != nil {
		app.Get("/metrics", adaptor.HTTPHandler(recorder.Handler()))
	}

	h := &handlers{resolver: resolver, logger: logger}

	// API routes
	api := app.Group("/api/v1")

	api.Post("/scan", h.postScan)
	api.Post("/sbom", h.postSBOM)
	api.Get("/rules", h.getRules)
	api.Get("/rules/:id", h.getRule)
	api.Post("/graphql", GraphQLHandler(schema, logger))

	return app, nil
}

// parseScanRequest returns the request, or nil and the reason it is invalid.
func parseScanRequest(c *fiber.Ctx) (*ScanRequest, string) {
	var req ScanRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, "Invalid request body: " + err.Error()
	}
	if util.IsEmpty(req.Path) {
		return nil, "path is a required field"
	}
	return &req, ""
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Success: false,
		Message: message,
	})
}

// scanStatus maps a scan error to an HTTP status.
func scanStatus(err error) int {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *handlers) respond(c *fiber.Ctx, result *model.ScanResult, err error) error {
	if err != nil {
		h.logger.Warn("Scan failed", zap.Error(err))
		return c.Status(scanStatus(err)).JSON(ErrorResponse{
			Success: false,
			Message: err.Error(),
		})
	}
	return c.JSON(result)
}

// postScan handles POST requests for scanning a directory tree on the server's filesystem
func (h *handlers) postScan(c *fiber.Ctx) error {
	req, msg := parseScanRequest(c)
	if req == nil {
		return badRequest(c, msg)
	}
	result, err := h.resolver.Scan(c.UserContext(), req.Path, req.Ignore, req.CVE)
	return h.respond(c, result, err)
}

// postSBOM handles POST requests for scanning a CycloneDX SBOM on the server's filesystem
func (h *handlers) postSBOM(c *fiber.Ctx) error {
	req, msg := parseScanRequest(c)
	if req == nil {
		return badRequest(c, msg)
	}
	result, err := h.resolver.ScanSBOM(c.UserContext(), req.Path, req.CVE)
	return h.respond(c, result, err)
}

func (h *handlers) getRules(c *fiber.Ctx) error {
	all, err := h.resolver.Scanner.Rules().All()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Message: err.Error(),
		})
	}
	return c.JSON(all)
}

func (h *handlers) getRule(c *fiber.Ctx) error {
	rule, err := h.resolver.Scanner.Rules().Get(c.Params("id"))
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, rules.ErrRuleNotFound) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(ErrorResponse{
			Success: false,
			Message: err.Error(),
		})
	}
	return c.JSON(rule)
}

// GraphQLHandler handles GraphQL requests
func GraphQLHandler(schema graphql.Schema, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var params struct {
			Query         string                 `json:"query"`
			OperationName string                 `json:"operationName"`
			Variables     map[string]interface{} `json:"variables"`
		}

		if err := c.BodyParser(&params); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"errors": []map[string]interface{}{
					{
						"message": "Invalid request body",
					},
				},
			})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  params.Query,
			VariableValues: params.Variables,
			OperationName:  params.OperationName,
			Context:        c.UserContext(),
		})

		if len(result.Errors) > 0 {
			logger.Sugar().Infof("GraphQL errors: %v", result.Errors)
		}

		return c.JSON(result)
	}
}

// Listen serves app on port until ctx ends.
func Listen(ctx context.Context, app *fiber.App, port string, logger *zap.Logger) error {
	logger = util.OrNop(logger)

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	logger.Sugar().Infof("Starting server on port %s", port)
	logger.Sugar().Infof("GraphQL endpoint available at /api/v1/graphql")
	return app.Listen(":" + port)
}
