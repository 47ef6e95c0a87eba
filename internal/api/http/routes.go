package httpapi

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/wind-grid-service/internal/observability"
	"github.com/i474232898/wind-grid-service/internal/weather"
)

// MsgInvalidProjwin is returned when the bbox path segment is malformed.
const MsgInvalidProjwin = "Invalid projwin. Must be in format: ulx,uly,lrx,lry"

var validate = validator.New()

// WindService is the part of weather.Service the handlers need.
type WindService interface {
	Fetch(ctx context.Context, model, format, isoTimestamp string, bbox *[4]float64) (string, []byte, error)
	Models() []string
	Formats() map[string]string
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. The catch-all
// data routes are registered last so they never shadow /api/v1.
func RegisterRoutes(app *fiber.App, service WindService, metrics *observability.Registry) {
	v1 := app.Group("/api/v1")

	v1.Get("/models", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"models":  service.Models(),
			"formats": service.Formats(),
		})
	})

	v1.Get("/metrics", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"metrics": metrics.Snapshot()})
	})

	app.Get("/:model/:format/:datetime", func(c *fiber.Ctx) error {
		var p dataParams
		if err := p.bind(c); err != nil {
			return sendError(c, fiber.StatusBadRequest, err.Error())
		}
		return serveData(c, service, p, nil)
	})

	app.Get("/:model/:format/:datetime/:projwin", func(c *fiber.Ctx) error {
		var p dataParams
		if err := p.bind(c); err != nil {
			return sendError(c, fiber.StatusBadRequest, err.Error())
		}
		box, err := parseProjwin(param(c, "projwin"))
		if err != nil {
			return sendError(c, fiber.StatusBadRequest, MsgInvalidProjwin)
		}
		return serveData(c, service, p, box)
	})
}

// ErrorHandler is the central JSON error responder for the app.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// dataParams holds the path parameters of a data request.
type dataParams struct {
	Model    string `validate:"required"`
	Format   string `validate:"required,alphanum"`
	Datetime string `validate:"required"`
}

func (p *dataParams) bind(c *fiber.Ctx) error {
	p.Model = param(c, "model")
	p.Format = param(c, "format")
	p.Datetime = param(c, "datetime")
	return validate.Struct(p)
}

func serveData(c *fiber.Ctx, service WindService, p dataParams, box *[4]float64) error {
	contentType, body, err := service.Fetch(c.UserContext(), p.Model, p.Format, p.Datetime, box)
	if err != nil {
		code, msg := statusFor(err)
		return sendError(c, code, msg)
	}
	c.Set(fiber.HeaderContentType, contentType)
	return c.Send(body)
}

// statusFor maps a pipeline error to an HTTP status and client message.
func statusFor(err error) (int, string) {
	var e *weather.Error
	switch {
	case weather.IsClientError(err):
		if errors.As(err, &e) && e.Msg != "" && e.Err == nil {
			return fiber.StatusBadRequest, e.Msg
		}
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, weather.ErrTimeout):
		return fiber.StatusGatewayTimeout, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable, err.Error()
	default:
		return fiber.StatusBadGateway, err.Error()
	}
}

// sendError replies in plain text like the data routes themselves.
func sendError(c *fiber.Ctx, code int, msg string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(code).SendString(msg)
}

// parseProjwin parses "ulx,uly,lrx,lry".
func parseProjwin(s string) (*[4]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, errors.New(MsgInvalidProjwin)
	}
	var box [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		box[i] = v
	}
	return &box, nil
}

func param(c *fiber.Ctx, name string) string {
	raw := c.Params(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
