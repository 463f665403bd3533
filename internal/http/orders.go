package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"

	"github.com/shopmesh/ordering-service/internal/model"
	"github.com/shopmesh/ordering-service/internal/repository"
	"github.com/shopmesh/ordering-service/internal/saga"
)

// listOrdersHandler serves the paginated list from the read model, so no
// line-item joins happen on the hot path.
func listOrdersHandler(summaries repository.SummariesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		buyerID, err := strconv.ParseInt(c.QueryParam("buyerId"), 10, 64)
		if err != nil || buyerID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "buyerId required"})
		}

		page := 1
		pageSize := 10
		if v := c.QueryParam("page"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				page = n
			}
		}
		if v := c.QueryParam("pageSize"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				pageSize = n
			}
		}

		status := ""
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			st, ok := model.ParseOrderStatus(raw)
			if !ok {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
			}
			status = st.String()
		}

		rows, total, err := summaries.ListByBuyer(c.Request().Context(), buyerID, status, page, pageSize)
		if err != nil {
			c.Logger().Errorf("list summaries failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"page":     page,
			"pageSize": pageSize,
			"total":    total,
			"results":  rows,
		})
	}
}

type orderItemResp struct {
	ProductID   int64   `json:"productId"`
	ProductName string  `json:"productName"`
	UnitPrice   float64 `json:"unitPrice"`
	Units       int     `json:"units"`
	Discount    float64 `json:"discount"`
	PictureURL  string  `json:"pictureUrl,omitempty"`
}

type orderResp struct {
	ID          int64           `json:"id"`
	BuyerID     int64           `json:"buyerId"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	Street      string          `json:"street"`
	City        string          `json:"city"`
	State       string          `json:"state"`
	Country     string          `json:"country"`
	ZipCode     string          `json:"zipCode"`
	OrderDate   string          `json:"orderDate"`
	Total       float64         `json:"total"`
	Items       []orderItemResp `json:"items"`
}

func toOrderResp(o *model.Order) orderResp {
	resp := orderResp{
		ID:          o.ID,
		BuyerID:     o.BuyerID,
		Status:      o.Status.String(),
		Description: o.Description,
		Street:      o.Street,
		City:        o.City,
		State:       o.State,
		Country:     o.Country,
		ZipCode:     o.ZipCode,
		OrderDate:   o.OrderDate.UTC().Format(time.RFC3339),
		Total:       o.Total(),
		Items:       []orderItemResp{},
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResp{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			Units:       it.Units,
			Discount:    it.Discount,
			PictureURL:  it.PictureURL,
		})
	}
	return resp
}

func getOrderHandler(orders repository.OrdersRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		}

		order, err := orders.FindByID(c.Request().Context(), id)
		if err != nil {
			c.Logger().Errorf("find order failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if order == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "order not found"})
		}

		return c.JSON(http.StatusOK, toOrderResp(order))
	}
}

type statusReq struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// updateOrderStatusHandler is the manual operator path. It goes through the
// same transition table as the event-driven saga, so illegal moves get a 409.
func updateOrderStatusHandler(orch *saga.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		}

		var req statusReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		target, ok := model.ParseOrderStatus(req.Status)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
		}

		return applyStatus(c, orch, id, target, req.Reason)
	}
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func cancelOrderHandler(orch *saga.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		}

		var req cancelReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if req.Reason == "" {
			req.Reason = "Cancelled by request"
		}

		return applyStatus(c, orch, id, model.StatusCancelled, req.Reason)
	}
}

func applyStatus(c echo.Context, orch *saga.Orchestrator, id int64, target model.OrderStatus, reason string) error {
	order, err := orch.ApplyStatus(c.Request().Context(), id, target, reason)
	if err != nil {
		switch {
		case errors.Is(err, saga.ErrOrderNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "order not found"})
		case errors.Is(err, saga.ErrIllegalTransition):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		c.Logger().Errorf("status update failed: %v", err)

		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
	}

	return c.JSON(http.StatusOK, toOrderResp(order))
}
