package httpapi

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/queue"
)

const (
	HeaderStaffRole = "X-Staff-Role"
	HeaderStaffID   = "X-Staff-ID"

	actorKey = "actor"
)

// StaffActor is the authenticated staff member, as asserted by the upstream
// auth gateway.
type StaffActor struct {
	Role    queue.Role
	StaffID *uuid.UUID
}

// Actor reads the staff headers. A missing role is 401, an unknown role or a
// malformed staff id is 400.
func Actor() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header
			rawRole := strings.TrimSpace(header.Get(HeaderStaffRole))
			if rawRole == "" {
				return writeError(c, http.StatusUnauthorized, "unauthorized", "missing "+HeaderStaffRole+" header")
			}
			role, err := queue.ParseRole(rawRole)
			if err != nil {
				return writeError(c, http.StatusBadRequest, "unknown_role", err.Error())
			}

			actor := StaffActor{Role: role}
			if rawID := strings.TrimSpace(header.Get(HeaderStaffID)); rawID != "" {
				id, err := uuid.Parse(rawID)
				if err != nil {
					return writeError(c, http.StatusBadRequest, "invalid_request", HeaderStaffID+" must be a UUID")
				}
				actor.StaffID = &id
			}
			c.Set(actorKey, actor)
			return next(c)
		}
	}
}

func actorFrom(c echo.Context) StaffActor {
	actor, _ := c.Get(actorKey).(StaffActor)
	return actor
}
