package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key], f.ttls[key] = fmt.Sprint(value), ttl
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key], f.ttls[key] = fmt.Sprint(value), ttl
	return nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "fake:" + scope + ":" + id
}

const depositPath = "/api/v1/accounts/ACC-1/deposit"

func depositRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, depositPath, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	return payload.Error.Code
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	for _, key := range []string{"", strings.Repeat("k", maxIdempotencyKeyLen+1)} {
		rec := httptest.NewRecorder()
		Idempotency(newFakeStore(), time.Hour, nil)(handler).ServeHTTP(rec, depositRequest(key, `{"amount":"5"}`))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("key len %d: expected 400 got %d", len(key), rec.Code)
		}
	}
	if called {
		t.Fatalf("handler should not run without a usable key")
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	mw := Idempotency(store, 2*time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"balance":"15"}}`))
	}))

	first := httptest.NewRecorder()
	mw.ServeHTTP(first, depositRequest("dep-1", `{"amount":"5"}`))
	replay := httptest.NewRecorder()
	mw.ServeHTTP(replay, depositRequest("dep-1", `{"amount":"5"}`))

	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
	if replay.Code != http.StatusOK || replay.Body.String() != first.Body.String() {
		t.Fatalf("replay mismatch: %d %s", replay.Code, replay.Body.String())
	}
	if replay.Header().Get(replayedHeader) != "true" || first.Header().Get(replayedHeader) != "" {
		t.Fatalf("only the replay should carry %s", replayedHeader)
	}
	if replay.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content type preserved")
	}
	key := store.IdempotencyKey(http.MethodPost+"|"+depositPath, "dep-1")
	if store.ttls[key] != 2*time.Hour {
		t.Fatalf("expected completed record kept for 2h, got %v", store.ttls[key])
	}
}

func TestIdempotencyReplaysBusinessRejections(t *testing.T) {
	calls := 0
	mw := Idempotency(newFakeStore(), time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, depositRequest("wd-1", `{"amount":"500"}`))
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("attempt %d: expected 422 got %d", i, rec.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("a 4xx outcome should be replayed, handler ran %d times", calls)
	}
}

func TestIdempotencyReleasesKeyAfterServerError(t *testing.T) {
	store := newFakeStore()
	calls := 0
	mw := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		mw.ServeHTTP(httptest.NewRecorder(), depositRequest("retry-me", `{"amount":"5.00"}`))
	}
	if calls != 2 {
		t.Fatalf("expected handler to run again after a 5xx, ran %d times", calls)
	}
}

func TestIdempotencyReleasesKeyAfterPanic(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("ledger exploded")
	}))
	func() {
		defer func() { _ = recover() }()
		mw.ServeHTTP(httptest.NewRecorder(), depositRequest("boom", `{"amount":"1"}`))
	}()
	if len(store.data) != 0 {
		t.Fatalf("expected reservation released, store=%v", store.data)
	}
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	store := newFakeStore()
	var inner http.Handler
	calls := 0
	outer := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// a retry lands while the first request still holds the key
		dup := httptest.NewRecorder()
		inner.ServeHTTP(dup, depositRequest("slow", `{"amount":"5"}`))
		if dup.Code != http.StatusConflict || errorCode(t, dup) != string(pkgerrors.CodeIdempotency) {
			t.Errorf("expected in-flight duplicate rejected with 409, got %d", dup.Code)
		}
		w.WriteHeader(http.StatusOK)
	}))
	inner = outer

	rec := httptest.NewRecorder()
	outer.ServeHTTP(rec, depositRequest("slow", `{"amount":"5"}`))
	if rec.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected first request to finish once, code=%d calls=%d", rec.Code, calls)
	}
}

func TestIdempotencyDetectsBodyChange(t *testing.T) {
	mw := Idempotency(newFakeStore(), time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	mw.ServeHTTP(httptest.NewRecorder(), depositRequest("xyz", `{"amount":"5"}`))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, depositRequest("xyz", `{"amount":"50"}`))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if got := errorCode(t, rec); got != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, got)
	}
}

func TestIdempotencyWithoutStorePassesThrough(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
	Idempotency(nil, time.Hour, nil)(handler).ServeHTTP(httptest.NewRecorder(), depositRequest("", `{}`))
	if !called {
		t.Fatalf("expected passthrough when no store is configured")
	}
}
