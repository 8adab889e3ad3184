// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

// HTTP delivery for the migration administration surface: batch processing,
// retry of failed records, coverage statistics, readiness validation, and the
// post-migration cleanup. The router wires these behind RequireVerifiedEmail
// since migration control mutates account state.

package identity

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	requestutil "github.com/savorahq/savora/internal/platform/request"
	"github.com/savorahq/savora/internal/platform/respond"
	"github.com/savorahq/savora/internal/platform/validate"
	"github.com/savorahq/savora/pkg/pagination"
)

// Handler implements the HTTP layer for migration administration.
type Handler struct {
	orchestrator *Orchestrator
	cleanup      *Cleanup
}

// NewHandler constructs a new migration [Handler].
func NewHandler(orchestrator *Orchestrator, cleanup *Cleanup) *Handler {
	return &Handler{orchestrator: orchestrator, cleanup: cleanup}
}

// Routes returns a [chi.Router] configured with the migration endpoints.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// Migration Progress
	router.Get("/stats", handler.getStats)
	router.Get("/log", handler.listLog)

	// Batch Control
	router.Post("/process", handler.processPending)
	router.Post("/retry", handler.retryFailed)
	router.Post("/enqueue", handler.enqueueUnmigrated)

	// Cleanup
	router.Get("/cleanup/validate", handler.validateCleanup)
	router.Post("/cleanup", handler.runCleanup)

	return router
}

// # Progress Endpoints

/*
GET /api/v1/migration/stats.

Description: Reports identity counts and migration coverage.

Response:
  - 200: MigrationStats: Counters plus the coverage ratio
*/
func (handler *Handler) getStats(writer http.ResponseWriter, request *http.Request) {
	stats, err := handler.orchestrator.Stats(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, stats)
}

/*
GET /api/v1/migration/log.

Description: Pages through migration log entries, newest first.

Request:
  - page, limit: query parameters

Response:
  - 200: []MigrationEntry with pagination metadata
*/
func (handler *Handler) listLog(writer http.ResponseWriter, request *http.Request) {
	params := pagination.FromRequest(request)

	entries, total, err := handler.orchestrator.ListLog(request.Context(), params.Offset(), params.Limit)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, entries, pagination.NewMeta(params.Page, params.Limit, total))
}

// # Batch Control Endpoints

// processRequest defines the optional JSON payload for batch processing.
type processRequest struct {
	BatchSize int `json:"batch_size"`
}

/*
POST /api/v1/migration/process.

Description: Processes one batch of pending migration entries. A record that
fails does not stop the batch; it is marked failed and the batch continues.

Request:
  - body: processRequest (optional; batch_size defaults when omitted)

Response:
  - 200: BatchResult: Processed, successful, and failed counts
*/
func (handler *Handler) processPending(writer http.ResponseWriter, request *http.Request) {
	var input processRequest
	if request.ContentLength > 0 {
		if err := requestutil.DecodeJSON(request, &input); err != nil {
			respond.Error(writer, request, err)
			return
		}

		v := &validate.Validator{}
		v.Range("batch_size", input.BatchSize, 0, 1000)
		if err := v.Err(); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}

	result, err := handler.orchestrator.ProcessPending(request.Context(), input.BatchSize)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, result)
}

/*
POST /api/v1/migration/retry.

Description: Re-runs every failed migration entry. Entries that succeed move
to success with their error cleared; no duplicate entries are created.

Response:
  - 200: BatchResult: Processed, successful, and failed counts
*/
func (handler *Handler) retryFailed(writer http.ResponseWriter, request *http.Request) {
	result, err := handler.orchestrator.RetryFailed(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, result)
}

// enqueueResponse reports how many identities entered the queue.
type enqueueResponse struct {
	Enqueued int `json:"enqueued"`
}

// enqueueSweepLimit caps how many identities one sweep request may queue.
const enqueueSweepLimit = 1000

/*
POST /api/v1/migration/enqueue.

Description: Scans for unmigrated identities and enqueues them as pending.
Already-queued or already-migrated identities are skipped.

Response:
  - 200: enqueueResponse: Number of newly queued identities
*/
func (handler *Handler) enqueueUnmigrated(writer http.ResponseWriter, request *http.Request) {
	queued, err := handler.orchestrator.EnqueueUnmigrated(request.Context(), enqueueSweepLimit)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, enqueueResponse{Enqueued: queued})
}

// # Cleanup Endpoints

/*
GET /api/v1/migration/cleanup/validate.

Description: Dry-run readiness check for the final cleanup. Lists every
blocking issue without changing any state.

Response:
  - 200: ValidationReport: Issues plus the overall ready flag
*/
func (handler *Handler) validateCleanup(writer http.ResponseWriter, request *http.Request) {
	report, err := handler.cleanup.ValidateReadiness(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, report)
}

// cleanupRequest defines the optional JSON payload for the cleanup run.
type cleanupRequest struct {
	Force bool `json:"force"`
}

/*
POST /api/v1/migration/cleanup.

Description: Runs the post-migration cleanup: purges migrated legacy
sessions, scrubs embedded password hashes, and merges duplicate identities.
Refused with a validation failure while blocking issues remain, unless
force is set.

Request:
  - body: cleanupRequest (optional)

Response:
  - 200: CleanupResult: Purge, scrub, and merge counts
  - 400: ErrValidation: Readiness issues block the run
*/
func (handler *Handler) runCleanup(writer http.ResponseWriter, request *http.Request) {
	var input cleanupRequest
	if request.ContentLength > 0 {
		if err := requestutil.DecodeJSON(request, &input); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}

	result, err := handler.cleanup.PerformCompleteCleanup(request.Context(), input.Force)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, result)
}
