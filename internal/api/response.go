package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
)

type Meta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Count int `json:"count"`
}

type Response struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Idempotent bool   `json:"idempotent,omitempty"`
	Meta       *Meta  `json:"meta,omitempty"`
}

func writeSuccess(c *fiber.Ctx, code int, message string, data any) error {
	return c.Status(code).JSON(Response{Success: true, Message: message, Data: data})
}

func writeSuccessWithMeta(c *fiber.Ctx, message string, data any, meta *Meta) error {
	return c.Status(fiber.StatusOK).JSON(Response{Success: true, Message: message, Data: data, Meta: meta})
}

func writeError(c *fiber.Ctx, code int, message string, err string) error {
	return c.Status(code).JSON(Response{Success: false, Message: message, Error: err})
}

// writeLedgerError maps the ledger error classes onto HTTP. Replays and
// lost races are reported as idempotent successes.
func writeLedgerError(c *fiber.Ctx, message string, err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, message, err.Error())
	case errors.Is(err, ledger.ErrAccountExists):
		return writeError(c, fiber.StatusConflict, message, err.Error())
	case ledger.IsConflict(err):
		return c.Status(fiber.StatusOK).JSON(Response{
			Success:    true,
			Message:    "already applied",
			Error:      err.Error(),
			Idempotent: true,
		})
	case ledger.IsValidation(err), ledger.IsInvariant(err):
		return writeError(c, fiber.StatusUnprocessableEntity, message, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return writeError(c, fiber.StatusServiceUnavailable, message, "ledger busy, retry later")
	}
	return writeError(c, fiber.StatusInternalServerError, message, "internal error")
}

var validate = validator.New()

type bindError struct {
	message string
	detail  string
}

func (e *bindError) Error() string { return e.detail }

// bind parses the JSON body into req and runs its validate tags.
func bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return &bindError{message: "Invalid request body", detail: err.Error()}
	}
	if err := validate.Struct(req); err != nil {
		return &bindError{message: "Validation error", detail: formatValidationError(err)}
	}
	return nil
}

func writeBindError(c *fiber.Ctx, err error) error {
	var be *bindError
	if errors.As(err, &be) {
		return writeError(c, fiber.StatusBadRequest, be.message, be.detail)
	}
	return writeError(c, fiber.StatusBadRequest, "Invalid request", err.Error())
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msg := ""
	for i, e := range verrs {
		if i > 0 {
			msg += "; "
		}
		switch e.Tag() {
		case "required":
			msg += fmt.Sprintf("%s is required", e.Field())
		case "max":
			msg += fmt.Sprintf("%s must have maximum length %s", e.Field(), e.Param())
		case "oneof":
			msg += fmt.Sprintf("%s must be one of [%s]", e.Field(), e.Param())
		default:
			msg += fmt.Sprintf("%s is invalid (%s)", e.Field(), e.Tag())
		}
	}
	return msg
}
