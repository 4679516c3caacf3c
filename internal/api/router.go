package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"

	"github.com/archflow/engine/internal/api/handlers"
	mw "github.com/archflow/engine/internal/api/middleware"
)

type Dependencies struct {
	ProjectsHandler      *handlers.ProjectsHandler
	ArchitecturesHandler *handlers.ArchitecturesHandler
	DeploymentsHandler   *handlers.DeploymentsHandler
	LogsHandler          *handlers.LogsHandler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.RateLimit(10, 20))
	r.Use(chimid.Compress(5))

	hh := handlers.NewHealthHandler()
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/projects", func(pr chi.Router) {
			pr.Get("/", dep.ProjectsHandler.List)
			pr.Post("/", dep.ProjectsHandler.Create)

			pr.Route("/{id}", func(one chi.Router) {
				one.Get("/", dep.ProjectsHandler.Get)
				one.Delete("/", dep.ProjectsHandler.Archive)
				one.Get("/resources", dep.ProjectsHandler.Resources)
				one.Get("/chat", dep.ProjectsHandler.Chat)

				one.Route("/architecture", func(ar chi.Router) {
					ar.Get("/", dep.ArchitecturesHandler.GetLatest)
					ar.Post("/generate", dep.ArchitecturesHandler.Generate)
					ar.Post("/edit", dep.ArchitecturesHandler.Edit)
					ar.Get("/versions", dep.ArchitecturesHandler.ListVersions)
					ar.Get("/versions/{version}", dep.ArchitecturesHandler.GetVersion)
				})

				one.Route("/deployments", func(dr chi.Router) {
					dr.Get("/", dep.DeploymentsHandler.List)
					dr.Get("/latest", dep.DeploymentsHandler.Latest)
					dr.Post("/apply", dep.DeploymentsHandler.Apply)
					dr.Post("/destroy", dep.DeploymentsHandler.Destroy)
				})

				one.Get("/logs/ws", dep.LogsHandler.Stream)
			})
		})

		api.Get("/deployments/{jobID}", dep.DeploymentsHandler.Get)
	})

	return r
}
