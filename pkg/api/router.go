package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// router builds the chi router with the full middleware stack and routes.
//
// Middleware order matters: request IDs first so every later log line
// carries one, recovery before the timeout so panics inside timed-out
// handlers still produce a 500.
//
// Routes:
//   - GET  /health                                - liveness probe
//   - GET  /health/ready                          - readiness probe (store + queue)
//   - GET  /metrics                               - Prometheus scrape (when enabled)
//   - GET  /ws                                    - websocket gateway (when enabled)
//   - POST   /api/tasks                           - multipart upload
//   - GET    /api/tasks                           - list own tasks with summary
//   - GET    /api/tasks/{id}                      - task detail
//   - DELETE /api/tasks/{id}                      - soft-delete
//   - GET    /api/tasks/{id}/download             - 302 to pre-signed original
//   - GET    /api/tasks/{id}/result               - 302 to pre-signed result
//   - GET    /api/tasks/{id}/preview              - result HTML stream
//   - GET    /api/tasks/{id}/page-image/{n}       - page image stream
//   - GET    /api/tasks/{id}/audit                - audit trail
//   - GET    /api/tasks/{id}/permissions          - list grants
//   - POST   /api/tasks/{id}/permissions          - grant edit permission
//   - DELETE /api/permissions/{id}                - revoke a grant
//   - POST   /api/sessions/{task_id}/start        - open edit session
//   - POST   /api/sessions/{task_id}/end          - close session (beacon-tolerant)
//   - POST   /api/sessions/{task_id}/download-result - PDF stream
//   - POST   /api/versions/{task_id}/save         - snapshot-or-overwrite save
//   - GET    /api/versions/{task_id}/latest       - latest HTML with source headers
//   - GET    /api/versions/{task_id}              - version history
//   - POST   /api/versions/{task_id}/revert       - restore an old version
//   - /api/folders                                - folder CRUD
func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", s.handleLiveness)
		r.Get("/ready", s.handleReadiness)
	})

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	// The websocket upgrade authenticates itself and must outlive the
	// request timeout, so it sits outside the /api group.
	if s.deps.Gateway != nil {
		r.Handle("/ws", s.deps.Gateway)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
		r.Use(s.authenticate)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Get("/", s.handleListTasks)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Delete("/", s.handleDeleteTask)
				r.Get("/download", s.handleDownloadOriginal)
				r.Get("/result", s.handleDownloadResult)
				r.Get("/preview", s.handlePreview)
				r.Get("/page-image/{n}", s.handlePageImage)
				r.Get("/audit", s.handleAuditTrail)
				r.Get("/permissions", s.handleListPermissions)
				r.Post("/permissions", s.handleGrantPermission)
			})
		})

		r.Delete("/permissions/{id}", s.handleRevokePermission)

		r.Route("/sessions/{task_id}", func(r chi.Router) {
			r.Post("/start", s.handleStartSession)
			r.Post("/end", s.handleEndSession)
			r.Post("/download-result", s.handleDownloadPDF)
		})

		r.Route("/versions/{task_id}", func(r chi.Router) {
			r.Get("/", s.handleListVersions)
			r.Post("/save", s.handleSaveVersion)
			r.Get("/latest", s.handleLatestVersion)
			r.Post("/revert", s.handleRevertVersion)
		})

		r.Route("/folders", func(r chi.Router) {
			r.Get("/", s.handleListFolders)
			r.Post("/", s.handleCreateFolder)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetFolder)
				r.Put("/", s.handleUpdateFolder)
				r.Delete("/", s.handleDeleteFolder)
			})
		})
	})

	return r
}
