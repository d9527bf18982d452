package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/requestctx"
)

const (
	// DefaultHeader carries the client-chosen key.
	DefaultHeader = "Idempotency-Key"
	// ReplayHeader marks a response served from the store.
	ReplayHeader = "Idempotent-Replayed"
)

// Options configures Middleware.
type Options struct {
	Header string
	TTL    time.Duration
	// Required rejects guarded requests without a key. When false they pass through untouched.
	Required bool
	Now      func() time.Time
}

// Middleware replays the stored response for a repeated key on POST, PUT, PATCH and DELETE.
// Keys are scoped to the caller so two users cannot collide. Responses with a 5xx status are
// not stored and release the key so the client can retry.
func Middleware(store Store, opts Options) func(http.Handler) http.Handler {
	if opts.Header == "" {
		opts.Header = DefaultHeader
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !guarded(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			key := strings.TrimSpace(r.Header.Get(opts.Header))
			if key == "" {
				if opts.Required {
					writeError(w, http.StatusBadRequest, "idempotency_key_required", opts.Header+" header is required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			logger := requestctx.Logger(ctx).With(zap.String("idempotencyKey", key))

			body, err := bufferBody(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
				return
			}
			caller := callerID(r)
			scoped := caller + "|" + key
			fingerprint := fingerprintOf(r, caller, body)

			entry, outcome, err := store.Begin(ctx, scoped, fingerprint, opts.Now(), opts.TTL)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key was used for a different request")
				return
			case err != nil:
				logger.Error("idempotency begin failed", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "unavailable", "idempotency store unavailable")
				return
			}

			switch outcome {
			case OutcomeReplay:
				replay(w, entry.Reply)
				return
			case OutcomeInFlight:
				writeError(w, http.StatusConflict, "idempotency_in_progress", "a request with this idempotency key is in progress")
				return
			}

			capture := &capturingWriter{header: make(http.Header)}
			next.ServeHTTP(capture, r)
			reply := capture.reply()

			if reply.Status >= http.StatusInternalServerError {
				if err := store.Abandon(ctx, scoped); err != nil {
					logger.Warn("idempotency abandon failed", zap.Error(err))
				}
			} else if err := store.Finish(ctx, scoped, fingerprint, reply, opts.Now(), opts.TTL); err != nil {
				logger.Warn("idempotency finish failed", zap.Error(err))
				if err := store.Abandon(ctx, scoped); err != nil {
					logger.Warn("idempotency abandon failed", zap.Error(err))
				}
			}
			emit(w, reply)
		})
	}
}

func guarded(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func callerID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(r.Context()); ok && svc.Subject != "" {
		return "service:" + svc.Subject
	}
	return "anonymous"
}

func fingerprintOf(r *http.Request, caller string, body []byte) string {
	parts := []string{r.Method, r.URL.Path, r.URL.RawQuery, caller, sha256Hex(body)}
	return sha256Hex([]byte(strings.Join(parts, "\n")))
}

func replay(w http.ResponseWriter, reply Reply) {
	for name, values := range reply.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	emitBody(w, reply)
}

func emit(w http.ResponseWriter, reply Reply) {
	for name, values := range reply.Header {
		w.Header()[name] = values
	}
	emitBody(w, reply)
}

func emitBody(w http.ResponseWriter, reply Reply) {
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(reply.Body) > 0 {
		_, _ = w.Write(reply.Body)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

// capturingWriter buffers the downstream response so it can be stored before it is sent.
type capturingWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) Header() http.Header { return c.header }

func (c *capturingWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *capturingWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *capturingWriter) reply() Reply {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return Reply{Status: status, Header: c.header, Body: c.body.Bytes()}
}
