package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/session"
)

type handler struct {
	ctrl *session.Controller
	log  zerolog.Logger
}

// view handles GET /api/v1/session
func (h *handler) view(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.View())
}

// start handles POST /api/v1/session. A failed opening turn still answers
// 200; the view carries the error and canRetry.
func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	var cfg models.GameConfig
	if err := decode(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(cfg.Theme) == "" {
		writeError(w, badRequest("theme is required"))
		return
	}
	if err := h.ctrl.Start(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.View())
}

func (h *handler) quit(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Quit()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) choose(w http.ResponseWriter, r *http.Request) {
	var opt models.GameOption
	if err := decode(r, &opt); err != nil {
		writeError(w, err)
		return
	}
	h.turn(w, h.ctrl.Choose(r.Context(), opt))
}

func (h *handler) custom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, badRequest("text is required"))
		return
	}
	h.turn(w, h.ctrl.ChooseCustom(r.Context(), body.Text))
}

func (h *handler) retry(w http.ResponseWriter, r *http.Request) {
	h.turn(w, h.ctrl.Retry(r.Context()))
}

func (h *handler) turn(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.View())
}

func (h *handler) world(w http.ResponseWriter, r *http.Request) {
	var req models.WorldSettingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ws, err := h.ctrl.GenerateWorldSetting(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (h *handler) provider(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":    h.ctrl.Provider(),
		"available": models.Providers,
	})
}

// setProvider handles PUT /api/v1/provider
func (h *handler) setProvider(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	p, err := models.ParseProvider(body.Provider)
	if err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}
	if err := h.ctrl.SwitchProvider(p); err != nil {
		writeError(w, err)
		return
	}
	h.log.Info().Str("provider", string(p)).Msg("active provider changed")
	h.provider(w, r)
}

func (h *handler) listSaves(w http.ResponseWriter, r *http.Request) {
	listing, err := h.ctrl.ListSaves(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *handler) save(w http.ResponseWriter, r *http.Request) {
	meta, err := h.ctrl.Save(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (h *handler) overwrite(w http.ResponseWriter, r *http.Request) {
	meta, err := h.ctrl.Overwrite(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *handler) load(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Load(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.View())
}

func (h *handler) deleteSave(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.DeleteSave(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, h.ctrl.ToggleFavorite(chi.URLParam(r, "id")), "item not found or favorites full")
}

func (h *handler) toggleDiscard(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, h.ctrl.TogglePendingDiscard(chi.URLParam(r, "id")), "item not found")
}

func (h *handler) toggle(w http.ResponseWriter, ok bool, msg string) {
	if !ok {
		writeError(w, &apiError{Status: http.StatusConflict, Code: "INVENTORY_REJECTED", Message: msg})
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.View().Inventory)
}
