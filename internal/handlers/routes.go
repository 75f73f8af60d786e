package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/playbell/apiserver/internal/services"
	"github.com/playbell/apiserver/internal/storage"
)

// Register mounts every PlayBell route on r. The caller installs the
// transport middleware; Register adds session authentication.
func Register(r chi.Router, accounts *services.AccountService, catalog *services.CatalogService, assets *storage.AssetStore, sessions *Sessions) {
	r.Get("/healthz", Healthz)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(sessions, accounts))

		r.Route("/auth", func(r chi.Router) {
			AuthRouter(r, accounts, sessions)
		})
		CatalogRouter(r, catalog, assets)
		r.Route("/admin", func(r chi.Router) {
			AdminCatalogRouter(r, catalog, assets)
		})
		r.Route("/superadmin", func(r chi.Router) {
			AccountsRouter(r, accounts)
		})
	})
}
