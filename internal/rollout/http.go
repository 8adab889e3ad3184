// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package rollout

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/savorahq/savora/internal/platform/respond"
)

// Handler implements the HTTP layer for phase administration.
type Handler struct {
	controller *Controller
}

// NewHandler constructs a new rollout [Handler].
func NewHandler(controller *Controller) *Handler {
	return &Handler{controller: controller}
}

// Routes returns a [chi.Router] configured with the phase endpoints.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/phase", handler.getPhase)
	router.Post("/phase/advance", handler.advance)
	router.Post("/phase/rollback", handler.rollback)

	return router
}

// phaseResponse is the transition state plus its derived feature flags.
type phaseResponse struct {
	*TransitionState
	Flags Flags `json:"flags"`
}

/*
GET /api/v1/rollout/phase.

Description: Reports the current transition phase and its feature flags.

Response:
  - 200: phaseResponse: Persisted state plus derived flags
*/
func (handler *Handler) getPhase(writer http.ResponseWriter, request *http.Request) {
	state, err := handler.controller.Current(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, phaseResponse{TransitionState: state, Flags: state.Phase.Flags()})
}

/*
POST /api/v1/rollout/phase/advance.

Description: Moves to the next phase if its readiness gate passes. A failed
gate returns a validation failure naming each unmet condition and leaves the
phase untouched.

Response:
  - 200: phaseResponse: The new state
  - 409: ErrConflict: The transition is already complete
  - 422: ErrValidation: Readiness conditions unmet
*/
func (handler *Handler) advance(writer http.ResponseWriter, request *http.Request) {
	state, err := handler.controller.Advance(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, phaseResponse{TransitionState: state, Flags: state.Phase.Flags()})
}

/*
POST /api/v1/rollout/phase/rollback.

Description: Returns to the dual phase from any non-terminal phase.

Response:
  - 200: phaseResponse: The new state
  - 409: ErrConflict: Terminal phase, or already at dual
*/
func (handler *Handler) rollback(writer http.ResponseWriter, request *http.Request) {
	state, err := handler.controller.Rollback(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, phaseResponse{TransitionState: state, Flags: state.Phase.Flags()})
}
