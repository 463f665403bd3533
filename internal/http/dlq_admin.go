package http

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/shopmesh/ordering-service/internal/eventbus"
)

// The DLQ admin surface is the only operator-facing recovery path for events
// that exhausted their retries. Everything else self-heals.

func listDLQHandler(bus *eventbus.EventBus) echo.HandlerFunc {
	return func(c echo.Context) error {
		infos, err := bus.DLQCounts(bus.Queues())
		if err != nil {
			c.Logger().Errorf("dlq counts failed: %v", err)

			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "event bus unavailable"})
		}

		return c.JSON(http.StatusOK, map[string]any{"queues": infos})
	}
}

func replayDLQHandler(bus *eventbus.EventBus) echo.HandlerFunc {
	return func(c echo.Context) error {
		queue, ok := dlqParam(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "queue required"})
		}

		replayed, err := bus.ReplayDLQ(c.Request().Context(), queue)
		if err != nil {
			c.Logger().Errorf("dlq replay failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]any{
				"error":    "replay stopped",
				"replayed": replayed,
			})
		}

		return c.JSON(http.StatusOK, map[string]any{"queue": queue + ".dlq", "replayed": replayed})
	}
}

// dlqParam returns the base subscription queue for the :queue path param. It
// accepts either the base name or the ".dlq"-suffixed name the listing shows.
func dlqParam(c echo.Context) (string, bool) {
	base := strings.TrimSuffix(c.Param("queue"), ".dlq")
	return base, base != ""
}

func purgeDLQHandler(bus *eventbus.EventBus) echo.HandlerFunc {
	return func(c echo.Context) error {
		queue, ok := dlqParam(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "queue required"})
		}

		purged, err := bus.PurgeDLQ(queue)
		if err != nil {
			c.Logger().Errorf("dlq purge failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "purge failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{"queue": queue + ".dlq", "purged": purged})
	}
}
