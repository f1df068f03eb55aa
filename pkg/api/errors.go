package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"profiler/pkg/errs"
)

// statusFor maps a run error onto an HTTP status. Export failures alone do
// not fail the request: the run happened and its profile is returned.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errs.ErrCommandTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrConfiguration), errors.Is(err, errs.ErrSampling):
		return http.StatusBadRequest
	// A cancelled run is an execution error wrapping context.Canceled; the
	// caller went away, the command did not fail.
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.Is(err, errs.ErrCommandExecution):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrExporter):
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// errorBody renders err with the kind and context of its first profiling
// error.
func errorBody(err error) gin.H {
	body := gin.H{"error": err.Error()}
	if e, ok := errs.As(err); ok {
		body["kind"] = e.Kind.String()
		if ctx := errs.ContextOf(e); len(ctx) > 0 {
			body["context"] = ctx
		}
	}
	return body
}

// exportFailures lists the exporter errors joined into err.
func exportFailures(err error) []gin.H {
	var out []gin.H
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		if e, ok := errs.As(err); ok && e.Kind == errs.KindExporter {
			out = append(out, errorBody(e))
		}
	}
	walk(err)
	return out
}

func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), errorBody(err))
}
