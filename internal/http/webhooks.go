package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/shopmesh/ordering-service/internal/repository"
	"github.com/shopmesh/ordering-service/internal/util"
)

func listWebhooksHandler(webhooks repository.WebhooksRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		subs, err := webhooks.List(c.Request().Context())
		if err != nil {
			c.Logger().Errorf("list webhooks failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{"count": len(subs), "results": subs})
	}
}

type createWebhookReq struct {
	EventType string `json:"eventType"`
	URL       string `json:"url"`
}

func createWebhookHandler(webhooks repository.WebhooksRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createWebhookReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.EventType = strings.TrimSpace(req.EventType)
		req.URL = strings.TrimSpace(req.URL)
		if req.EventType == "" || !strings.HasPrefix(req.URL, "http") {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "eventType and an http(s) url are required"})
		}

		// the token is echoed back on every delivery so receivers can verify origin
		sub, err := webhooks.Create(c.Request().Context(), req.EventType, req.URL, util.NewULID())
		if err != nil {
			c.Logger().Errorf("create webhook failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusCreated, sub)
	}
}

func deleteWebhookHandler(webhooks repository.WebhooksRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
		}

		deleted, err := webhooks.Delete(c.Request().Context(), id)
		if err != nil {
			c.Logger().Errorf("delete webhook failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if !deleted {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "webhook not found"})
		}

		return c.NoContent(http.StatusNoContent)
	}
}
