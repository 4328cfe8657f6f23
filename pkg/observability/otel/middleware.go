package otel

import (
	"strconv"

	"github.com/fluxorio/blockflow/pkg/web"
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// HTTPMiddleware traces each request in a server span continuing any
// trace context found in the request headers. The span travels in the
// request context, so router injections become its children.
func HTTPMiddleware() web.FastMiddleware {
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			if !IsInitialized() {
				return next(ctx)
			}

			parent := propagator.Extract(ctx.Context(), requestCarrier{&ctx.RequestCtx.Request.Header})
			method := string(ctx.Method())
			path := string(ctx.Path())
			spanCtx, span := StartSpan(parent, method+" "+path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", method),
					attribute.String("url.path", path),
					attribute.String("http.request_id", ctx.RequestID()),
				),
			)
			defer span.End()
			ctx.SetContext(spanCtx)

			err := next(ctx)

			status := ctx.RequestCtx.Response.StatusCode()
			span.SetAttributes(
				attribute.Int("http.response.status_code", status),
				attribute.Int("http.response.body.size", len(ctx.RequestCtx.Response.Body())),
			)
			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case status >= 500:
				span.SetStatus(codes.Error, "HTTP "+strconv.Itoa(status))
			default:
				span.SetStatus(codes.Ok, "")
			}

			propagator.Inject(spanCtx, responseCarrier{&ctx.RequestCtx.Response.Header})
			return err
		}
	}
}

// SpanFromRequest returns the span context HTTPMiddleware attached.
func SpanFromRequest(ctx *web.FastRequestContext) (trace.SpanContext, bool) {
	sc := trace.SpanContextFromContext(ctx.Context())
	return sc, sc.IsValid()
}

// requestCarrier adapts fasthttp request headers to a TextMapCarrier.
type requestCarrier struct {
	headers *fasthttp.RequestHeader
}

func (c requestCarrier) Get(key string) string {
	return string(c.headers.Peek(key))
}

func (c requestCarrier) Set(key, value string) {
	c.headers.Set(key, value)
}

func (c requestCarrier) Keys() []string {
	var keys []string
	c.headers.VisitAll(func(k, _ []byte) {
		keys = append(keys, string(k))
	})
	return keys
}

// responseCarrier adapts fasthttp response headers to a TextMapCarrier.
type responseCarrier struct {
	headers *fasthttp.ResponseHeader
}

func (c responseCarrier) Get(key string) string {
	return string(c.headers.Peek(key))
}

func (c responseCarrier) Set(key, value string) {
	c.headers.Set(key, value)
}

func (c responseCarrier) Keys() []string {
	var keys []string
	c.headers.VisitAll(func(k, _ []byte) {
		keys = append(keys, string(k))
	})
	return keys
}
