package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/genreswap/internal/middleware"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/registry"
	"github.com/makeasinger/genreswap/internal/service"
	"github.com/makeasinger/genreswap/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{service: svc, validator: v}
}

// Submit handles POST /api/jobs
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.UserContext(), &req, middleware.GetUserID(c))
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			return response.ValidationError(c, "Validation failed", map[string]string{verr.Field: verr.Message})
		}
		// a job that was created but not scheduled is still reported, so
		// the caller can look it up
		var details any
		if result != nil {
			details = result
		}
		if errors.Is(err, service.ErrDispatcherClosed) {
			return response.Error(c, fiber.StatusServiceUnavailable, response.CodeServiceUnavailable, "Server is shutting down", details)
		}
		return response.Error(c, fiber.StatusInternalServerError, response.CodeServiceError, "Could not submit job", details)
	}
	return response.Created(c, result)
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	view, err := h.service.GetStatus(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Could not read job")
	}
	return response.OK(c, view)
}

// List handles GET /api/jobs?includeHistory=true
func (h *JobHandler) List(c *fiber.Ctx) error {
	views, err := h.service.List(c.UserContext(), c.QueryBool("includeHistory"))
	if err != nil {
		return response.ServiceError(c, "Could not list jobs")
	}
	return response.OK(c, model.JobListResponse{Jobs: views})
}

// Genres handles GET /api/genres
func (h *JobHandler) Genres(c *fiber.Ctx) error {
	return response.OK(c, model.GenresResponse{
		SupportedGenres: model.SupportedGenres,
		Count:           len(model.SupportedGenres),
	})
}
