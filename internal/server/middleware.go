package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/websocket"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// requestIDHeader carries the request id in both directions
const requestIDHeader = "X-Request-ID"

// requestIDMiddleware reuses a caller supplied UUID or assigns a new one
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs HTTP requests and responses. Bodies are never logged.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := getRequestID(r.Context())
		log := s.logger.WithRequestID(requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		log.LogRequest(r.Method, r.URL.Path, r.Header, r.ContentLength)

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		log.Info("HTTP request completed",
			zap.Int("status_code", rw.statusCode),
			zap.Duration("duration", duration),
			zap.Int("response_size", rw.size),
		)

		if s.wsHub != nil {
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeRequestLog,
				Timestamp: time.Now(),
				RequestID: requestID,
				Data: websocket.RequestLogEvent{
					RequestID:    requestID,
					Method:       r.Method,
					Path:         r.URL.Path,
					StatusCode:   rw.statusCode,
					ClientIP:     s.clientIP(r),
					UserAgent:    r.UserAgent(),
					Duration:     duration,
					RequestSize:  r.ContentLength,
					ResponseSize: int64(rw.size),
				},
			})
		}
	})
}

// rateLimitMiddleware rejects clients that exceed their request budget
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := s.clientIP(r)
		if !s.limiter.Allow(clientIP) {
			s.logger.WithRequestID(getRequestID(r.Context())).Warn("Rate limit exceeded",
				zap.String("client_ip", clientIP),
			)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture response data
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// getRequestID extracts request ID from context
func getRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return "unknown"
}
