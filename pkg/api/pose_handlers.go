package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/WVU-ASEL/glidar/pkg/config"
	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/services"
)

// PoseHandler holds dependencies for pose configuration endpoints.
type PoseHandler struct {
	poseService services.PoseConfigService
	logger      customlog.Logger
}

// NewPoseHandler creates a new handler for pose configuration endpoints.
func NewPoseHandler(poseService services.PoseConfigService, logger customlog.Logger) *PoseHandler {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &PoseHandler{
		poseService: poseService,
		logger:      logger,
	}
}

// RegisterPoseRoutes registers the pose configuration endpoints.
func RegisterPoseRoutes(app *fiber.App, poseService services.PoseConfigService, logger customlog.Logger) {
	h := NewPoseHandler(poseService, logger)

	apiGroup := app.Group("/api/v1/config")
	apiGroup.Get("/pose", h.handleGetPose)
	apiGroup.Put("/pose", h.handleUpdatePose)

	h.logger.Infof("Registered pose configuration API endpoints under /api/v1/config")
}

// handleGetPose returns the current pose as YAML.
func (h *PoseHandler) handleGetPose(c *fiber.Ctx) error {
	yamlData, err := h.poseService.GetCurrentConfigYAML()
	if err != nil {
		h.logger.Errorf("Failed to render pose config YAML: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to retrieve configuration: %v", err),
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdatePose replaces the pose with the YAML body.
func (h *PoseHandler) handleUpdatePose(c *fiber.Ctx) error {
	newConfigYAML := c.Body()
	if len(newConfigYAML) == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	if err := h.poseService.UpdateConfig(newConfigYAML); err != nil {
		if errors.Is(err, config.ErrValidation) || errors.Is(err, config.ErrParse) {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Pose update failed: %v", err),
			})
		}
		h.logger.Errorf("Failed to update pose configuration: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Internal server error during pose update: %v", err),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Pose configuration updated.",
		"pose":    h.poseService.GetCurrentConfig(),
	})
}
