package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/teilomillet/chatguard/errors"
)

const defaultTimeout = 60 * time.Second

// timeoutWriter serializes writes from the handler goroutine with the
// timeout response. Once the deadline fires, handler writes are dropped.
type timeoutWriter struct {
	w http.ResponseWriter

	mu       sync.Mutex
	header   http.Header
	wrote    bool
	timedOut bool
}

func (tw *timeoutWriter) Header() http.Header {
	return tw.header
}

func (tw *timeoutWriter) writeHeaderLocked(code int) {
	if tw.wrote {
		return
	}
	tw.wrote = true
	dst := tw.w.Header()
	for k, v := range tw.header {
		dst[k] = v
	}
	tw.w.WriteHeader(code)
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return
	}
	tw.writeHeaderLocked(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	tw.writeHeaderLocked(http.StatusOK)
	return tw.w.Write(b)
}

// timeout writes the 504 unless the handler already started its response.
func (tw *timeoutWriter) timeout(requestID string, d time.Duration, cause error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.wrote {
		return
	}
	tw.timedOut = true
	tw.wrote = true

	errors.WriteError(tw.w, errors.NewError(
		errors.InternalError,
		"Request timeout",
		http.StatusGatewayTimeout,
		requestID,
		map[string]interface{}{
			"timeout": d.String(),
		},
		cause,
	))
}

// Timeout middleware bounds the request context. If the handler has not
// started writing when the deadline passes, a 504 is sent. Streaming
// routes must not be wrapped.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{w: w, header: make(http.Header)}
			done := make(chan struct{})
			panicked := make(chan interface{}, 1)

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
					}
					close(done)
				}()
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				select {
				case p := <-panicked:
					panic(p)
				default:
				}
			case <-ctx.Done():
				tw.timeout(GetRequestID(r.Context()), timeout, ctx.Err())
			}
		})
	}
}
