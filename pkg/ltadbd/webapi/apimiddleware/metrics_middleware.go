package apimiddleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics counts requests and responses by route template so
// dashboards can watch POP and PATCH traffic per stage without high label
// cardinality.
type RequestMetrics struct {
	requests  *prometheus.CounterVec
	responses *prometheus.CounterVec
}

func NewRequestMetrics(registry *prometheus.Registry) *RequestMetrics {
	m := &RequestMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lta_requests_total",
			Help: "Requests received, by method and route.",
		}, []string{"method", "route"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lta_responses_total",
			Help: "Responses sent, by method, route, and status code.",
		}, []string{"method", "route", "status"}),
	}

	registry.MustRegister(m.requests, m.responses)
	return m
}

func (m *RequestMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			method := ctx.Request().Method
			route := ctx.Path()

			m.requests.WithLabelValues(method, route).Inc()
			err := next(ctx)
			m.responses.WithLabelValues(method, route, strconv.Itoa(ctx.Response().Status)).Inc()

			return err
		}
	}
}
