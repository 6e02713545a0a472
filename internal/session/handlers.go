package session

import (
	"backend-trailmates/internal/apperr"
	"backend-trailmates/internal/auth"
	"backend-trailmates/internal/shared/digest"

	"github.com/gofiber/fiber/v2"
)

// Events receives lifecycle changes made through the REST façade so the
// realtime transport can announce them to the room.
type Events interface {
	SessionStarted(s Session)
	SessionEnded(s Session)
}

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler, events Events) {
	r.Post("/:activityId/start", authMiddleware, func(c *fiber.Ctx) error {
		sess, err := svc.StartSession(c.UserContext(), c.Params("activityId"), auth.UserID(c))
		if err != nil {
			return apperr.HTTP(err)
		}
		if events != nil {
			events.SessionStarted(sess)
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	})

	r.Post("/:activityId/end", authMiddleware, func(c *fiber.Ctx) error {
		sess, err := svc.EndSession(c.UserContext(), c.Params("activityId"), auth.UserID(c))
		if err != nil {
			return apperr.HTTP(err)
		}
		if events != nil {
			events.SessionEnded(sess)
		}
		return c.JSON(sess)
	})

	r.Get("/:activityId/active", authMiddleware, func(c *fiber.Ctx) error {
		sess, err := svc.ActiveSessionFor(c.UserContext(), c.Params("activityId"), auth.UserID(c))
		if err != nil {
			return apperr.HTTP(err)
		}
		etag, err := digest.ETag(sess)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		c.Set(fiber.HeaderETag, etag)
		if c.Get(fiber.HeaderIfNoneMatch) == etag {
			return c.SendStatus(fiber.StatusNotModified)
		}
		return c.JSON(sess)
	})

	r.Get("/:activityId/participants", authMiddleware, func(c *fiber.Ctx) error {
		participants, err := svc.LiveParticipants(c.UserContext(), c.Params("activityId"), auth.UserID(c))
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(participants)
	})

	r.Get("/:activityId/history", authMiddleware, func(c *fiber.Ctx) error {
		sessions, err := svc.History(c.UserContext(), c.Params("activityId"), auth.UserID(c))
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(sessions)
	})
}
