package auth

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Get("/jwt/verify", func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		userID, err := svc.ValidateAccessToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		return c.JSON(fiber.Map{"user_id": userID})
	})
}

// UserID returns the identity stored by JWTMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
