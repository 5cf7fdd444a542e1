// Package handler contains HTTP request handlers for the train network API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/shiva/traits/internal/model"
	"github.com/shiva/traits/internal/service"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps an engine error onto a status code.
//
//	NotFound        → 404
//	DuplicateKey    → 409
//	Conflict        → 409
//	InvalidArgument → 400
//	anything else   → 500 (details only in the log)
func writeError(w http.ResponseWriter, err error) {
	kind := service.KindOf(err)
	var status int
	switch kind {
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindDuplicateKey, service.KindConflict:
		status = http.StatusConflict
	case service.KindInvalidArgument:
		status = http.StatusBadRequest
	default:
		log.Printf("[handler] internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
		return
	}
	writeJSON(w, status, errorBody{Error: kind.String(), Message: err.Error()})
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:   service.KindInvalidArgument.String(),
		Message: fmt.Sprintf(format, args...),
	})
}

// decodeBody reads a JSON body into dst and runs its validate tags.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		badRequest(w, "invalid JSON body: %v", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			badRequest(w, "field %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
			return false
		}
		badRequest(w, "%v", err)
		return false
	}
	return true
}

// pathKey parses a station or train key from the route variable name.
func pathKey(w http.ResponseWriter, r *http.Request, name string) (model.Key, bool) {
	k, err := model.ParseKey(mux.Vars(r)[name])
	if err != nil {
		badRequest(w, "invalid %s: %v", name, err)
		return model.Key{}, false
	}
	return k, true
}

// queryInt parses an optional integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (*int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(w, "invalid %s: must be an integer", name)
		return nil, false
	}
	return &v, true
}

// queryBool parses an optional boolean query parameter.
func queryBool(w http.ResponseWriter, r *http.Request, name string, def bool) (bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(w, "invalid %s: must be true or false", name)
		return false, false
	}
	return v, true
}
