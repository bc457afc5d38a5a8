// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file carries the request id, the request-scoped logger and panic
// recovery. RedactingLogger attaches the scoped logger; handlers read it back
// with LoggerFrom so their lines share request_id, the route and the
// profile, medication or schedule the route addresses.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// RequestID reuses the caller's X-Request-ID or generates one, echoes it on
// the response and stores it in the context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// requestID prefers the id RequestID wrote on the response over the one the
// client sent.
func requestID(c *gin.Context) string {
	if rid := c.Writer.Header().Get(requestIDHeader); rid != "" {
		return rid
	}
	return c.GetHeader(requestIDHeader)
}

// scopedLogger derives the logger for one request. Routes addressing a
// profile, medication or schedule get its id under profile_id,
// medication_id or schedule_id.
func scopedLogger(c *gin.Context, path string) zerolog.Logger {
	lc := log.With().
		Str("request_id", requestID(c)).
		Str("method", c.Request.Method).
		Str("path", path)
	if field := resourceField(c.FullPath()); field != "" {
		lc = lc.Str(field, c.Param("id"))
	}
	return lc.Logger()
}

// resourceField names the log field for the ":id" param of route, or "" when
// the route has none.
func resourceField(route string) string {
	for _, r := range []struct{ prefix, field string }{
		{"/profiles/:id", "profile_id"},
		{"/medications/:id", "medication_id"},
		{"/schedules/:id", "schedule_id"},
	} {
		if strings.Contains(route, r.prefix) {
			return r.field
		}
	}
	return ""
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// none was attached.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// Recovery turns a panic into a 500 with the API's error envelope. When the
// handler already wrote a response only the status is set.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid, _ := c.Get(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header("Content-Type", "application/json")
			c.Header(requestIDHeader, asString(rid))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
