package handlers

import (
	"net/http"
	"strings"

	"github.com/nikhilbhutani/promptcraft/internal/chain"
	"github.com/nikhilbhutani/promptcraft/internal/llm"
	"github.com/nikhilbhutani/promptcraft/internal/models"
)

const maxRunSteps = 10

type ChainHandler struct {
	executor *chain.Executor
}

func NewChainHandler(ex *chain.Executor) *ChainHandler {
	return &ChainHandler{executor: ex}
}

type runChainRequest struct {
	Chain struct {
		Steps []models.ChainStep `json:"steps"`
	} `json:"chain"`
	Steps            []models.ChainStep `json:"steps"`
	ModelAssignments map[int]string     `json:"modelAssignments"`
	DefaultModel     string             `json:"defaultModel"`
	Input            string             `json:"input"`
	Variables        map[string]string  `json:"variables"`
	llm.Credentials
}

// RunChain executes a chain and reports per-step results. A failing step
// still answers 200 with success false and the steps completed so far.
func (h *ChainHandler) RunChain(w http.ResponseWriter, r *http.Request) {
	var req runChainRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	steps := req.Chain.Steps
	if len(steps) == 0 {
		steps = req.Steps
	}
	if len(steps) == 0 {
		writeError(w, http.StatusBadRequest, "chain steps are required")
		return
	}
	if len(steps) > maxRunSteps {
		writeError(w, http.StatusBadRequest, "too many chain steps")
		return
	}
	for _, s := range steps {
		if strings.TrimSpace(s.Prompt) == "" {
			writeError(w, http.StatusBadRequest, "every chain step needs a prompt")
			return
		}
	}

	res := h.executor.Run(r.Context(), chain.RunRequest{
		Steps:            steps,
		ModelAssignments: req.ModelAssignments,
		DefaultModel:     req.DefaultModel,
		Input:            req.Input,
		Variables:        req.Variables,
		Credentials:      req.Credentials,
	})
	writeJSON(w, http.StatusOK, res)
}
