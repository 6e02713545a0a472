package sos

import (
	"encoding/json"

	"backend-trailmates/internal/apperr"
	"backend-trailmates/internal/auth"
	"backend-trailmates/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
)

// Events is notified of workflow changes made over REST so they reach the room.
type Events interface {
	AlertTriggered(a Alert)
	AlertResponded(a Alert, r Response)
	AlertResolved(a Alert)
}

// Locations canonicalizes the location field of a trigger request.
type Locations interface {
	Location(raw json.RawMessage) (geo.Point, error)
}

type triggerRequest struct {
	ActivityID string          `json:"activity_id"`
	Location   json.RawMessage `json:"location"`
	Reason     string          `json:"reason"`
	Type       string          `json:"type"`
}

type respondRequest struct {
	Response string `json:"response"`
	Notes    string `json:"notes"`
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

func RegisterRoutes(r fiber.Router, svc *Service, locations Locations, authMiddleware fiber.Handler, events Events) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req triggerRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.ActivityID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "activity_id required")
		}
		point, err := locations.Location(req.Location)
		if err != nil {
			return apperr.HTTP(err)
		}
		alert, err := svc.Trigger(c.UserContext(), TriggerInput{
			UserID:     auth.UserID(c),
			ActivityID: req.ActivityID,
			Location:   point,
			Reason:     req.Reason,
			Type:       req.Type,
		})
		if err != nil {
			return apperr.HTTP(err)
		}
		if events != nil {
			events.AlertTriggered(alert)
		}
		return c.Status(fiber.StatusCreated).JSON(alert)
	})

	r.Get("/activity/:activityId", authMiddleware, func(c *fiber.Ctx) error {
		alerts, err := svc.ActiveForActivity(c.UserContext(), c.Params("activityId"), auth.UserID(c))
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(alerts)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		alert, err := svc.Get(c.UserContext(), c.Params("id"), auth.UserID(c))
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(alert)
	})

	r.Post("/:id/respond", authMiddleware, func(c *fiber.Ctx) error {
		var req respondRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		alert, resp, err := svc.Respond(c.UserContext(), c.Params("id"), auth.UserID(c), req.Response, req.Notes)
		if err != nil {
			return apperr.HTTP(err)
		}
		if events != nil {
			events.AlertResponded(alert, resp)
		}
		return c.JSON(alert)
	})

	r.Post("/:id/resolve", authMiddleware, func(c *fiber.Ctx) error {
		var req resolveRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		alert, err := svc.Resolve(c.UserContext(), c.Params("id"), auth.UserID(c), req.Notes)
		if err != nil {
			return apperr.HTTP(err)
		}
		if events != nil {
			events.AlertResolved(alert)
		}
		return c.JSON(alert)
	})
}
