package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

// requestIDHeader is set on the response by the request id middleware before
// any handler runs.
const requestIDHeader = "X-Request-Id"

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

// WriteError renders err as the error envelope. 4xx codes echo the domain
// message; 5xx codes only ever show the public text so internals never leak.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	serverSide := meta.HTTPStatus >= http.StatusInternalServerError

	apiErr := APIError{
		Code:      string(typed.Code()),
		Message:   meta.PublicMessage,
		RequestID: w.Header().Get(requestIDHeader),
	}
	if !serverSide && typed.Message() != "" {
		apiErr.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, pkgerrors.Dump(err).Fields())
		ctx = logg.WithField(ctx, "status", meta.HTTPStatus)
		if serverSide {
			logg.Error(ctx, "request failed", err)
		} else {
			logg.Warn(ctx, "request rejected")
		}
	}
	writeJSON(w, meta.HTTPStatus, ErrorEnvelope{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// status already sent
	_ = json.NewEncoder(w).Encode(payload)
}
