package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/montageio/montage/pkg/engine"
	"github.com/montageio/montage/pkg/persistence"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusConflict).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine and storage errors onto problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, engine.ErrWorkflowNotFound):
		return notFound(c, "workflow not found")
	case errors.Is(err, engine.ErrWorkflowNotIdle):
		return conflict(c, err.Error())
	case persistence.IsCheckpointNotFound(err):
		return notFound(c, "checkpoint not found")
	default:
		return internalError(c, err)
	}
}
