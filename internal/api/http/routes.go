package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-globe-cache/internal/cache"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, controller *cache.Controller) {
	v1 := app.Group("/api/v1")

	v1.Get("/layers", func(c *fiber.Ctx) error {
		layers := controller.Layers()
		out := make([]fiber.Map, 0, len(layers))
		for _, id := range layers {
			out = append(out, fiber.Map{
				"layer": id,
				"stats": controller.Stats(id),
			})
		}
		return c.JSON(fiber.Map{"layers": out})
	})

	v1.Get("/layers/:layer/status", func(c *fiber.Ctx) error {
		layerID := c.Params("layer")
		if !controller.Registered(layerID) {
			return fiber.NewError(fiber.StatusNotFound, "layer not registered")
		}

		return c.JSON(fiber.Map{
			"layer":          layerID,
			"stats":          controller.Stats(layerID),
			"loadedIndices":  indicesOrEmpty(controller.LoadedIndices(layerID)),
			"loadingIndices": indicesOrEmpty(controller.LoadingIndices(layerID)),
			"failedIndices":  indicesOrEmpty(controller.FailedIndices(layerID)),
		})
	})

	v1.Get("/layers/:layer/timesteps", func(c *fiber.Ctx) error {
		layerID := c.Params("layer")
		if !controller.Registered(layerID) {
			return fiber.NewError(fiber.StatusNotFound, "layer not registered")
		}

		return c.JSON(fiber.Map{
			"layer":     layerID,
			"timesteps": controller.Steps(layerID),
		})
	})

	// Called by the UI on every timeline scrub: the timesteps adjacent to the
	// requested time jump the download queue.
	v1.Post("/layers/:layer/prioritize", func(c *fiber.Ctx) error {
		var req timeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := controller.PrioritizeTimestamps(c.Params("layer"), req.Time); err != nil {
			if errors.Is(err, cache.ErrNotRegistered) {
				return fiber.NewError(fiber.StatusNotFound, "layer not registered")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to prioritize timesteps")
		}

		return c.JSON(fiber.Map{
			"layer": c.Params("layer"),
			"stats": controller.Stats(c.Params("layer")),
		})
	})

	v1.Delete("/layers/:layer", func(c *fiber.Ctx) error {
		layerID := c.Params("layer")
		if !controller.Registered(layerID) {
			return fiber.NewError(fiber.StatusNotFound, "layer not registered")
		}

		controller.ClearLayer(layerID)
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func indicesOrEmpty(indices []int) []int {
	if indices == nil {
		return []int{}
	}
	return indices
}

// timeQuery holds the time query parameter shared by scrub endpoints.
type timeQuery struct {
	Time time.Time `validate:"required"`
}

func (q *timeQuery) bind(c *fiber.Ctx) error {
	raw := c.Query("time")
	if raw == "" {
		return errors.New("time query parameter is required")
	}

	t, err := parseTime(raw)
	if err != nil {
		return err
	}
	q.Time = t

	return validate.Struct(q)
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
