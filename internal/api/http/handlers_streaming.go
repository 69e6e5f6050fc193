package apihttp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"remotestream/internal/domain"
	"remotestream/internal/domain/ports"
	"remotestream/internal/usecase"
)

func (s *Server) handleStreamSource(w http.ResponseWriter, r *http.Request, id domain.SourceID) {
	if s.openStream == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "open stream use case not configured")
		return
	}

	result, err := s.openStream.Execute(r.Context(), id)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	if result.Stream == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stream not available")
		return
	}
	stream := result.Stream
	defer stream.Close()
	stream.SetContext(r.Context())

	contentType := stream.ContentType()
	if contentType == "" {
		contentType = result.Record.ContentType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	validators := stream.Validators()
	if validators.ETag != "" {
		w.Header().Set("ETag", validators.ETag)
	}
	if validators.LastModified != "" {
		w.Header().Set("Last-Modified", validators.LastModified)
	}

	size := int64(stream.Size())

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		if !s.openAt(w, r, stream, id, 0) {
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, stream); err != nil {
			s.logger.Debug("stream copy interrupted",
				slog.String("sourceId", string(id)),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	start, end, err := parseByteRange(rangeHeader, size)
	if errors.Is(err, errInvalidRange) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
		return
	}
	if errors.Is(err, errRangeNotSatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	if _, err := stream.Seek(start, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to seek stream")
		return
	}
	if !s.openAt(w, r, stream, id, start) {
		return
	}
	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.CopyN(w, stream, length); err != nil {
		s.logger.Debug("stream range copy interrupted",
			slog.String("sourceId", string(id)),
			slog.Int64("start", start),
			slog.Int64("length", length),
			slog.String("error", err.Error()),
		)
	}
}

// openAt connects upstream before any status line is written, so a
// replaced or unreachable resource still gets a proper error response.
func (s *Server) openAt(w http.ResponseWriter, r *http.Request, stream ports.RemoteStream, id domain.SourceID, start int64) bool {
	err := stream.Open(r.Context())
	if err == nil {
		return true
	}
	s.logger.Warn("stream upstream open failed",
		slog.String("sourceId", string(id)),
		slog.Int64("start", start),
		slog.String("error", err.Error()),
	)
	for _, h := range []string{"Accept-Ranges", "ETag", "Last-Modified"} {
		w.Header().Del(h)
	}
	writeUseCaseError(w, fmt.Errorf("%w: %w", usecase.ErrStream, err))
	return false
}
