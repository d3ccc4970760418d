package httpx

import (
	"net/http"

	"github.com/samara-industry/stockledger/internal/shared"
)

// StatusFor maps a ledger error to its HTTP status.
func StatusFor(err error) int {
	switch shared.Kind(err) {
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindMismatch, shared.KindInvariant:
		return http.StatusUnprocessableEntity
	case shared.KindConflict, shared.KindState:
		return http.StatusConflict
	case shared.KindLockBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	kind := shared.Kind(err)
	if status == http.StatusInternalServerError {
		Problem(w, status, kind, "Internal Error", "")
		return
	}
	Problem(w, status, kind, http.StatusText(status), err.Error())
}
