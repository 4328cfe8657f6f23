package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// FastHTTPHandler returns a fasthttp handler for the metrics endpoint of
// DefaultRegistry.
func FastHTTPHandler() fasthttp.RequestHandler {
	return FastHTTPHandlerFor(DefaultRegistry)
}

// FastHTTPHandlerFor returns a fasthttp handler exposing gatherer.
func FastHTTPHandlerFor(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	// Convert standard http.Handler to fasthttp
	return fasthttpadaptor.NewFastHTTPHandler(HandlerFor(gatherer))
}

// Handler returns an HTTP handler for the metrics endpoint (for standard http)
func Handler() http.Handler {
	return HandlerFor(DefaultRegistry)
}

// HandlerFor returns an HTTP handler for a custom registry
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
