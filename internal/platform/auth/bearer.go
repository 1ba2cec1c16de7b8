package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhircheck/internal/platform/fhir"
)

// SubjectKey holds the verified token subject on the echo context.
const SubjectKey = "auth_subject"

// BearerMiddleware rejects requests without a valid HS256 bearer token. The
// rejection body is a FHIR OperationOutcome.
func BearerMiddleware(cfg VerifierConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return unauthorized(c, "missing authorization header")
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return unauthorized(c, "invalid authorization format")
			}

			claims, err := ParseToken(strings.TrimSpace(parts[1]), cfg)
			if err != nil {
				return unauthorized(c, "invalid token")
			}

			c.Set(SubjectKey, claims.Subject)
			return next(c)
		}
	}
}

func unauthorized(c echo.Context, msg string) error {
	c.Response().Header().Set("WWW-Authenticate", `Bearer realm="fhir"`)
	return c.JSON(http.StatusUnauthorized, fhir.UnauthorizedOutcome(msg))
}
