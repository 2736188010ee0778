package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"scene-studio/internal/assets"
	"scene-studio/internal/models"
	"scene-studio/internal/playback"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Store.ListProjects(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": projects})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.Store.GetProject(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteProject(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	p, err := s.Store.GetProject(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, playback.Build(p))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	p, err := s.Store.GetProject(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, p.ID))
	if _, err := playback.Export(r.Context(), w, p, s.Assets.Download); err != nil {
		// headers are gone; the truncated archive is all the client gets
		s.Log.WithError(err).WithField("project", p.ID).Warn("export interrupted")
	}
}

// handleAsset serves one scene asset. Backends with signed links redirect to them.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	p, err := s.Store.GetProject(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ref := ""
	kind := chi.URLParam(r, "kind")
	if kind == "cover" {
		ref = p.CoverRef
	} else {
		pos, err := strconv.Atoi(chi.URLParam(r, "position"))
		if err != nil || pos < 0 || pos >= len(p.Items) {
			writeError(w, http.StatusNotFound, "no such scene")
			return
		}
		switch kind {
		case "visual":
			ref = p.Items[pos].AssetRef
		case "narration":
			ref = p.Items[pos].NarrationRef
		}
	}
	if ref == "" {
		writeError(w, http.StatusNotFound, "no such asset")
		return
	}

	if linker, ok := s.Assets.(assets.Linker); ok {
		url, err := linker.Link(r.Context(), ref, s.Config.AssetLinkExpiry)
		if err == nil {
			http.Redirect(w, r, url, http.StatusFound)
			return
		}
		s.Log.WithError(err).Warn("asset link failed, streaming instead")
	}
	data, err := s.Assets.Download(r.Context(), ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", assets.ContentTypeFor(ref))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(data)
}
