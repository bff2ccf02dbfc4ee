package handlers

import (
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/promptcraft/internal/generation"
)

type GenerationHandler struct {
	svc *generation.Service
}

func NewGenerationHandler(svc *generation.Service) *GenerationHandler {
	return &GenerationHandler{svc: svc}
}

func (h *GenerationHandler) GeneratePrompt(w http.ResponseWriter, r *http.Request) {
	var req generation.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Generate(r.Context(), req)
	if err != nil {
		writeGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *GenerationHandler) ImprovePrompt(w http.ResponseWriter, r *http.Request) {
	var req generation.ImproveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Improve(r.Context(), req)
	if err != nil {
		writeGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *GenerationHandler) OptimizePrompt(w http.ResponseWriter, r *http.Request) {
	var req generation.OptimizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Optimize(r.Context(), req)
	if err != nil {
		writeGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *GenerationHandler) GenerateChain(w http.ResponseWriter, r *http.Request) {
	var req generation.ChainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.GenerateChain(r.Context(), req)
	if err != nil {
		writeGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// TestPrompt answers provider failures with the error-shaped result itself;
// only input and model access errors get an error body.
func (h *GenerationHandler) TestPrompt(w http.ResponseWriter, r *http.Request) {
	var req generation.TestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Test(r.Context(), req)
	if err != nil {
		ge, ok := generation.IsError(err)
		if ok && ge.Status >= http.StatusInternalServerError && res != nil {
			writeJSON(w, ge.Status, res)
			return
		}
		writeGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeGenerationError(w http.ResponseWriter, err error) {
	if ge, ok := generation.IsError(err); ok {
		writeJSON(w, ge.Status, map[string]string{"error": ge.Message, "code": ge.Code})
		return
	}
	slog.Error("generation failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
