package handlers

// router.go constructs the chi router, registers all middleware, and wires
// all routes to their respective handlers. it is the single source of
// truth for the HTTP surface area of the orchestrator's control API.
// adding a new endpoint means adding one line in this file, nothing else.

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// RouterDependencies groups all external dependencies the router and its
// handlers need. passing a single struct instead of N arguments keeps
// CreateAndSetupRouter's signature stable as more handlers are added.
type RouterDependencies struct {
	Logger        *slog.Logger
	Catalog       Catalog
	Builder       Builder
	Launcher      Launcher
	Registry      ContainerRegistry
	Manager       StopCompleter
	Deleter       ExerciseDeleter
	UploadDir     string
	UploadMaxSize int64
	BaseDomain    string
	CORSOrigins   []string
}

// CreateAndSetupRouter constructs the chi multiplexer, attaches middleware,
// constructs all handlers with their dependencies, and registers all
// routes (spec §6.1). It returns a plain http.Handler so main.go has no
// chi import or awareness beyond that.
func CreateAndSetupRouter(dependencies RouterDependencies) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.Logger) // TODO swap for a slog-based request logger
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   dependencies.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Subject-Id", "X-Subject-Role"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- handler construction ---
	healthHandler := NewHealthHandler(dependencies.Logger)
	exercisesHandler := NewExercisesHandler(
		dependencies.Catalog,
		dependencies.Builder,
		dependencies.Launcher,
		dependencies.UploadDir,
		dependencies.UploadMaxSize,
		dependencies.BaseDomain,
		dependencies.Logger,
	)
	containersHandler := NewContainersHandler(dependencies.Registry, dependencies.Manager, dependencies.Logger)
	adminHandler := NewAdminHandler(dependencies.Manager, dependencies.Deleter, dependencies.Logger)

	identity := devIdentityMiddleware(dependencies.Logger)
	requireAdminMW := requireAdminMiddleware(dependencies.Logger)

	// /health sits outside the /api group: load balancers and container
	// orchestrators probe it at the root path with no knowledge of the
	// application's internal route structure.
	router.Get("/health", healthHandler.Health)

	router.Route("/api", func(apiRouter chi.Router) {
		// Upload and launch both provision resources (an image build, a
		// running container) expensive enough to warrant their own rate
		// limit independent of the rest of the API.
		apiRouter.With(identity, requireAdminMW, httprate.LimitByIP(10, time.Minute)).
			Post("/exercises/upload", exercisesHandler.Upload)

		apiRouter.With(identity).Get("/exercises", exercisesHandler.List)

		apiRouter.With(identity, httprate.LimitByIP(30, time.Minute)).
			Post("/exercises/launch/{exerciseId}", exercisesHandler.Launch)

		apiRouter.With(identity).Get("/containers", containersHandler.List)
		apiRouter.With(identity).Post("/containers/{containerId}/stop", containersHandler.Stop)

		// The completion callback is called by the sandbox container
		// itself, not an authenticated subject (spec §6.2 CALLBACK_URL).
		apiRouter.Post("/containers/{subdomain}/complete", containersHandler.Complete)

		apiRouter.With(identity, requireAdminMW).
			Post("/admin/containers/{containerId}/stop", adminHandler.StopAny)

		apiRouter.With(identity, requireAdminMW).
			Delete("/admin/exercises/{exerciseId}", adminHandler.DeleteExercise)
	})

	return router
}

// requireAdminMiddleware adapts requireAdmin (which wraps a single
// http.HandlerFunc) into chi's middleware shape (func(http.Handler)
// http.Handler) for use with Router.With.
func requireAdminMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return requireAdmin(logger, next.ServeHTTP)
	}
}
