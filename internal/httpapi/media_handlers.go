package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fechatter/fechatter/internal/apiutil"
)

const downloadURLTTL = 5 * time.Minute

// handleUpload handles POST /api/upload and POST /api/files/single: both
// routes accept a multipart file upload and return FileRef(s). The media
// service's own handler already enforces the configured size limit and
// writes the response, so it's mounted directly rather than reimplemented.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.Media == nil {
		apiutil.WriteError(w, r, http.StatusServiceUnavailable, "upstream_unavailable", "file storage is not configured")
		return
	}
	s.Media.ServeUpload(w, r)
}

// handleDownload handles GET /api/files/{storageKey}: redirect to a
// short-lived presigned URL rather than proxy the bytes through this
// process.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.Media == nil {
		apiutil.WriteError(w, r, http.StatusServiceUnavailable, "upstream_unavailable", "file storage is not configured")
		return
	}
	storageKey := chi.URLParam(r, "*")
	url, err := s.Media.PresignedDownloadURL(r.Context(), storageKey, downloadURLTTL)
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}
