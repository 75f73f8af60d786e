package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/playbell/apiserver/internal/policy"
	"github.com/playbell/apiserver/internal/services"
	"github.com/playbell/apiserver/internal/storage"
	"github.com/playbell/apiserver/logger"
	"github.com/playbell/apiserver/types"
)

const (
	maxMultipartMemory = 32 << 20
	maxUploadBytes     = 64 << 20
	formFieldFile      = "file"
	formFieldTitle     = "title"
	formFieldArtist    = "artist"
)

// CatalogHandler serves the song catalog, song requests and uploads.
type CatalogHandler struct {
	catalog *services.CatalogService
	assets  *storage.AssetStore
}

func NewCatalogHandler(catalog *services.CatalogService, assets *storage.AssetStore) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, assets: assets}
}

// CatalogRouter registers the member routes.
func CatalogRouter(r chi.Router, catalog *services.CatalogService, assets *storage.AssetStore) {
	handler := NewCatalogHandler(catalog, assets)

	r.With(Require(policy.ActionBrowseCatalog)).Get("/songs", handler.ListSongs)
	r.With(Require(policy.ActionBrowseCatalog)).Get("/uploads/{key}", handler.ServeUpload)
	r.With(Require(policy.ActionSubmitRequest)).Post("/requests", handler.SubmitRequest)
}

// AdminCatalogRouter registers the catalog management routes.
func AdminCatalogRouter(r chi.Router, catalog *services.CatalogService, assets *storage.AssetStore) {
	handler := NewCatalogHandler(catalog, assets)

	r.Group(func(r chi.Router) {
		r.Use(Require(policy.ActionManageCatalog))
		r.Get("/songs", handler.ListSongs)
		r.Post("/songs", handler.AddSong)
		r.Post("/songs/{songID}/mute", handler.ToggleMute)
		r.Delete("/songs/{songID}", handler.DeleteSong)
	})
	r.Group(func(r chi.Router) {
		r.Use(Require(policy.ActionManageRequests))
		r.Get("/requests", handler.ListRequests)
		r.Post("/requests/{requestID}/approve", handler.ApproveRequest)
		r.Post("/requests/{requestID}/reject", handler.RejectRequest)
	})
}

type SongRequestRequest struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// DeleteSongResponse carries the removed song and, when the stored file
// could not be removed, a warning.
type DeleteSongResponse struct {
	Song    types.Song `json:"song"`
	Warning string     `json:"warning,omitempty"`
}

func (h *CatalogHandler) ListSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := h.catalog.ListSongs(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, songs)
}

func (h *CatalogHandler) ServeUpload(w http.ResponseWriter, r *http.Request) {
	rc, err := h.assets.Open(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidRef) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Debugf("http: stream upload: %v", err)
	}
}

func (h *CatalogHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SongRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := principalFromContext(r.Context())
	created, err := h.catalog.SubmitRequest(r.Context(), req.Title, req.Artist, p.Username)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *CatalogHandler) AddSong(w http.ResponseWriter, r *http.Request) {
	upload, cleanup, err := parseUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	song, err := h.catalog.AddSong(r.Context(), r.FormValue(formFieldTitle), r.FormValue(formFieldArtist), upload)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, song)
}

func (h *CatalogHandler) ToggleMute(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "songID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	song, err := h.catalog.ToggleMute(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, song)
}

func (h *CatalogHandler) DeleteSong(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "songID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	song, err := h.catalog.DeleteSong(r.Context(), id)
	var releaseErr *services.AssetReleaseError
	switch {
	case errors.As(err, &releaseErr):
		writeJSON(w, http.StatusOK, DeleteSongResponse{Song: song, Warning: "song deleted but its file could not be removed"})
	case err != nil:
		writeServiceError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, DeleteSongResponse{Song: song})
	}
}

func (h *CatalogHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.catalog.ListRequests(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (h *CatalogHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "requestID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	upload, cleanup, err := parseUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	song, err := h.catalog.ApproveRequest(r.Context(), id, upload)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, song)
}

func (h *CatalogHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "requestID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.catalog.RejectRequest(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseUpload reads the multipart form. A missing file yields a nil
// upload so the service can report it.
func parseUpload(w http.ResponseWriter, r *http.Request) (*storage.Upload, func(), error) {
	noop := func() {}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, noop, errors.New("invalid multipart form")
	}

	file, header, err := r.FormFile(formFieldFile)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, func() { _ = r.MultipartForm.RemoveAll() }, nil
	}
	if err != nil {
		return nil, noop, errors.New("failed to read upload")
	}
	cleanup := func() {
		_ = file.Close()
		_ = r.MultipartForm.RemoveAll()
	}
	return &storage.Upload{
		Filename:    header.Filename,
		ContentType: contentType(header),
		Size:        header.Size,
		Body:        file,
	}, cleanup, nil
}

func contentType(header *multipart.FileHeader) string {
	return strings.TrimSpace(header.Header.Get("Content-Type"))
}
