package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func dlqContext(t *testing.T, queue string) echo.Context {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("queue")
	c.SetParamValues(queue)

	return c
}

func TestDLQParamAcceptsBaseAndSuffixedNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		param string
		base  string
		ok    bool
	}{
		{"base queue name", "ordering.saga.order.paid", "ordering.saga.order.paid", true},
		{"suffixed name from the listing", "ordering.saga.order.paid.dlq", "ordering.saga.order.paid", true},
		{"empty", "", "", false},
		{"suffix only", ".dlq", "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			base, ok := dlqParam(dlqContext(t, tt.param))
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
