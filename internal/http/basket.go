package http

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/shopmesh/ordering-service/internal/eventbus"
	"github.com/shopmesh/ordering-service/internal/model"
	"github.com/shopmesh/ordering-service/internal/repository"
)

type checkoutReq struct {
	BuyerID int64  `json:"buyerId"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	ZipCode string `json:"zipCode"`
}

// checkoutHandler drains the buyer's basket and publishes basket.checkout.
// The saga picks it up from there; the HTTP response only acknowledges that
// the flow started.
func checkoutHandler(baskets repository.BasketsRepository, bus *eventbus.EventBus) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req checkoutReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if req.BuyerID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "buyerId required"})
		}

		ctx := c.Request().Context()

		basket, err := baskets.Get(ctx, req.BuyerID)
		if err != nil {
			c.Logger().Errorf("basket lookup failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "basket lookup failed"})
		}
		if basket == nil || len(basket.Items) == 0 {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "basket empty"})
		}

		event := model.NewEvent(model.EventBasketCheckout, model.BasketCheckoutPayload{
			BuyerID: req.BuyerID,
			Items:   basket.Items,
			Street:  req.Street,
			City:    req.City,
			State:   req.State,
			Country: req.Country,
			ZipCode: req.ZipCode,
		})

		if err := bus.Publish(ctx, event); err != nil {
			log.Errorf("checkout publish failed: %v", err)

			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "event bus unavailable"})
		}

		// basket is working state; once checkout is on the wire it is spent
		if err := baskets.Delete(ctx, req.BuyerID); err != nil {
			c.Logger().Errorf("basket delete failed: %v", err)
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"accepted": true,
			"eventId":  event.ID,
			"buyerId":  strconv.FormatInt(req.BuyerID, 10),
		})
	}
}
