package blueprint

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/collection"
	"github.com/conduit-lang/waterline/internal/orm/ontology"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/record"
	"github.com/conduit-lang/waterline/internal/orm/relationships"
)

var errBadRequest = errors.New("bad request")

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

func renderJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func renderError(w http.ResponseWriter, status int, message string) {
	renderJSON(w, status, &ErrorResponse{Error: errorCode(status), Message: message})
}

// fail maps an ORM error to a status and renders it. Unexpected errors are logged
// and hidden from the client.
func (bp *blueprint) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		bp.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		renderError(w, status, "internal error")
		return
	}

	resp := &ErrorResponse{Error: errorCode(status), Message: err.Error()}
	var ve *collection.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = make(map[string][]string, len(ve.Errors))
		for _, fe := range ve.Errors {
			resp.Fields[fe.Field] = append(resp.Fields[fe.Field], fe.Message)
		}
	}
	renderJSON(w, status, resp)
}

// statusFor maps the ORM error taxonomy onto HTTP status codes
func statusFor(err error) int {
	var (
		unknownAttr *query.UnknownAttributeError
		unresolved  *relationships.UnresolvedAssociationError
		unique      *adapter.UniqueViolationError
		stale       *collection.StaleRecordError
	)

	switch {
	case errors.Is(err, ontology.ErrUnknownCollection),
		errors.Is(err, collection.ErrNotFound),
		errors.As(err, &stale):
		return http.StatusNotFound
	case errors.As(err, &unique):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, query.ErrInvalidCriteria),
		errors.Is(err, collection.ErrValidationFailed),
		errors.Is(err, relationships.ErrMaxDepthExceeded),
		errors.Is(err, record.ErrUnknownAttribute),
		errors.Is(err, record.ErrNotStored),
		errors.Is(err, record.ErrNilMember),
		errors.Is(err, record.ErrImmutableKey),
		errors.As(err, &unknownAttr),
		errors.As(err, &unresolved):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return "error"
	}
}
