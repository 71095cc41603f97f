package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tatianab/storyloom/internal/engine"
	"github.com/tatianab/storyloom/internal/saves"
	"github.com/tatianab/storyloom/internal/session"
	"github.com/tatianab/storyloom/internal/storage"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

// apiError is the error body of a failed request.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Message }

func badRequest(msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: msg}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	apiErr := toAPIError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(envelope{Error: apiErr})
}

// toAPIError maps domain errors onto status codes.
func toAPIError(err error) *apiError {
	var (
		apiErr  *apiError
		corrupt *saves.SaveCorruptError
		gen     *engine.GenerationError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, session.ErrBusy):
		return &apiError{Status: http.StatusConflict, Code: "BUSY", Message: err.Error()}
	case errors.Is(err, session.ErrNoSession), errors.Is(err, engine.ErrNoContext):
		return &apiError{Status: http.StatusConflict, Code: "NO_SESSION", Message: err.Error()}
	case errors.Is(err, session.ErrGameOver):
		return &apiError{Status: http.StatusConflict, Code: "GAME_OVER", Message: err.Error()}
	case errors.Is(err, saves.ErrSaveNotFound):
		return &apiError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.As(err, &corrupt):
		return &apiError{Status: http.StatusUnprocessableEntity, Code: "SAVE_CORRUPT", Message: err.Error()}
	case errors.As(err, &gen):
		return &apiError{Status: http.StatusBadGateway, Code: "GENERATION_FAILED", Message: err.Error()}
	case errors.Is(err, storage.ErrInvalidKey):
		return badRequest(err.Error())
	}
	return &apiError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: err.Error()}
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}
