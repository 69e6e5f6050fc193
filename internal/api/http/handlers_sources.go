package apihttp

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"time"

	"remotestream/internal/domain"
	"remotestream/internal/usecase"
)

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleRegisterSource(w, r)
	case http.MethodGet:
		s.handleListSources(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type registerSourceJSON struct {
	URL  string   `json:"url"`
	Name string   `json:"name,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

func (s *Server) handleRegisterSource(w http.ResponseWriter, r *http.Request) {
	if s.registerSource == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "register source use case not configured")
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "unsupported content type")
		return
	}

	var body registerSourceJSON
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}

	// Registration performs a range request upstream; cap it.
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	record, err := s.registerSource.Execute(ctx, usecase.RegisterSourceInput{
		URL:  strings.TrimSpace(body.URL),
		Name: body.Name,
		Tags: body.Tags,
	})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}

	s.BroadcastSource(record)
	writeJSON(w, http.StatusCreated, record)
}

type sourceListResponse struct {
	Items []domain.SourceRecord `json:"items"`
	Count int                   `json:"count"`
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	if s.listSources == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "list sources use case not configured")
		return
	}

	query := r.URL.Query()
	status, err := parseStatus(query.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid status")
		return
	}

	sortBy := strings.TrimSpace(query.Get("sortBy"))
	if sortBy == "" {
		sortBy = "updatedAt"
	}
	if !isAllowedSortBy(sortBy) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid sortBy")
		return
	}
	sortOrder, err := parseSortOrder(query.Get("sortOrder"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid sortOrder")
		return
	}

	limit, err := parsePositiveInt(query.Get("limit"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	offset, err := parsePositiveInt(query.Get("offset"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid offset")
		return
	}

	const maxLimit = 1000
	if limit > maxLimit {
		limit = maxLimit
	}

	filter := domain.SourceFilter{
		Status:    status,
		Search:    strings.TrimSpace(query.Get("search")),
		Tags:      parseCommaSeparated(query.Get("tags")),
		SortBy:    sortBy,
		SortOrder: sortOrder,
	}
	if limit > 0 {
		filter.Limit = limit
	}
	if offset > 0 {
		filter.Offset = offset
	}

	records, err := s.listSources.Execute(r.Context(), filter)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	if records == nil {
		records = []domain.SourceRecord{}
	}
	writeJSON(w, http.StatusOK, sourceListResponse{Items: records, Count: len(records)})
}

func (s *Server) handleSourceByID(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sources/"), "/")
	if path == "" {
		http.NotFound(w, r)
		return
	}

	parts := strings.Split(path, "/")
	id := domain.SourceID(parts[0])

	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			s.handleGetSource(w, r, id)
		case http.MethodDelete:
			s.handleDeleteSource(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case 2:
		switch parts[1] {
		case "stream":
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			s.handleStreamSource(w, r, id)
		case "refresh":
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			s.handleRefreshSource(w, r, id)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request, id domain.SourceID) {
	if s.getSource == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "get source use case not configured")
		return
	}

	record, err := s.getSource.Execute(r.Context(), id)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request, id domain.SourceID) {
	if s.deleteSource == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "delete source use case not configured")
		return
	}

	if err := s.deleteSource.Execute(r.Context(), id); err != nil {
		writeUseCaseError(w, err)
		return
	}
	s.broadcastSourceDeleted(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshSource(w http.ResponseWriter, r *http.Request, id domain.SourceID) {
	if s.refresher == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "refresh not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	record, err := s.refresher.RefreshOne(ctx, id)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
