package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/paysaga-backend/api/responses"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 255

	defaultReplayTTL = 24 * time.Hour
	// pendingTTL bounds how long a crashed request blocks its key.
	pendingTTL = 30 * time.Second
)

// ResponseStore is the redis surface the replay cache needs.
type ResponseStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

type recordState string

const (
	statePending  recordState = "pending"
	stateComplete recordState = "complete"
)

// storedResponse is the cached outcome of a balance mutation. Body is base64
// in JSON via []byte.
type storedResponse struct {
	State       recordState `json:"state"`
	RequestHash string      `json:"request_hash"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        []byte      `json:"body,omitempty"`
}

// Idempotency makes a route safe to retry. The first request with a given
// Idempotency-Key reserves it, runs, and stores its response for ttl; later
// requests with the same key and body get that response back with
// Idempotent-Replayed: true. A different body is rejected, as is a retry
// that arrives while the first request is still running. 5xx outcomes are
// not kept so the caller can retry them.
func Idempotency(store ResponseStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			idemKey := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
			if idemKey == "" || len(idemKey) > maxIdempotencyKeyLen {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required").
					WithDetails(map[string]string{"header": idempotencyKeyHeader}))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := requestHash(r.Method, r.URL.Path, body)
			key := store.IdempotencyKey(r.Method+"|"+r.URL.Path, idemKey)

			reserved, err := reserve(ctx, store, key, hash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayOrReject(ctx, w, store, key, hash, logg)
				return
			}

			capture := &responseCapture{statusRecorder: statusRecorder{ResponseWriter: w}}
			completed := false
			defer func() {
				// a panic or 5xx frees the key for a retry
				if !completed {
					if delErr := store.Del(context.WithoutCancel(ctx), key); delErr != nil && logg != nil {
						logg.Error(ctx, "release idempotency key", delErr)
					}
				}
			}()
			next.ServeHTTP(capture, r)

			status := capture.code()
			if status >= http.StatusInternalServerError {
				return
			}
			payload, err := json.Marshal(storedResponse{
				State:       stateComplete,
				RequestHash: hash,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err == nil {
				err = store.Set(context.WithoutCancel(ctx), key, string(payload), ttl)
			}
			if err != nil {
				if logg != nil {
					logg.Error(ctx, "persist idempotent response", err)
				}
				return
			}
			completed = true
		})
	}
}

func reserve(ctx context.Context, store ResponseStore, key, hash string) (bool, error) {
	marker, err := json.Marshal(storedResponse{State: statePending, RequestHash: hash})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(marker), pendingTTL)
}

func replayOrReject(ctx context.Context, w http.ResponseWriter, store ResponseStore, key, hash string, logg *logger.Logger) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// the holder released the key between our SETNX and GET
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this Idempotency-Key is in progress, retry"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case stored.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "Idempotency-Key reused with a different request"))
	case stored.State != stateComplete:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this Idempotency-Key is in progress, retry"))
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseCapture struct {
	statusRecorder
	body bytes.Buffer
}

func (c *responseCapture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.statusRecorder.Write(b)
}
