package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rostersync/rostersync/internal/app/ports"
	"github.com/rostersync/rostersync/internal/app/services"
)

func isValidationError(err error) bool {
	var verr *services.ValidationError
	return errors.As(err, &verr)
}

// httpError maps domain errors onto API status codes.
func httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody(err))
	case errors.Is(err, ports.ErrDuplicateFederationCode):
		return c.JSON(http.StatusConflict, errorBody(err))
	case errors.Is(err, ports.ErrVersionConflict):
		return c.JSON(http.StatusConflict, errorBody(err))
	default:
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, errorBody(err))
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
