package depot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Server exposes a FileStore over HTTP: upload session management,
// part content PUTs, and range-capable downloads.
type Server struct {
	name  string
	store FileStore
}

// NewHTTPServer wraps a FileStore for serving. name is the store name
// embedded in /data/ URLs and must match the store's configured name.
func NewHTTPServer(name string, store FileStore) *Server {
	return &Server{name: name, store: store}
}

// apiError is the JSON error envelope for every non-2xx response.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, code string, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: message})
}

// writeStoreError maps a FileStore failure onto the HTTP error surface.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, "NotFound", "The requested resource does not exist.", http.StatusNotFound)
	case errors.Is(err, ErrSizeExceeded):
		writeError(w, "SizeExceeded", err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, ErrCapacityExceeded):
		writeError(w, "CapacityExceeded", err.Error(), http.StatusRequestEntityTooLarge)
	default:
		slog.Error("Store operation failed", "err", err)
		writeError(w, "InternalError", "We encountered an internal error. Please try again.", http.StatusInternalServerError)
	}
}

// writeJSONResponse encodes v as JSON with a 200 OK status.
func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Encode JSON response", "err", err)
	}
}

type beginUploadRequest struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	SizeInBytes int64  `json:"size_in_bytes"`
}

type uploadResponse struct {
	Upload *Upload      `json:"upload"`
	Parts  []UploadPart `json:"parts"`
}

// handleBeginUpload implements POST /uploads.
func (s *Server) handleBeginUpload(w http.ResponseWriter, r *http.Request) {
	var req beginUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "InvalidRequest", "Malformed JSON body.", http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		writeError(w, "InvalidRequest", "key must not be empty.", http.StatusBadRequest)
		return
	}
	if req.SizeInBytes < 0 {
		writeError(w, "InvalidRequest", "size_in_bytes must not be negative.", http.StatusBadRequest)
		return
	}

	upload, parts, err := s.store.BeginUpload(r.Context(), req.Key, req.ContentType, req.SizeInBytes)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSONResponse(w, uploadResponse{Upload: upload, Parts: parts})
}

// handleReadUpload implements GET /uploads/{upload_id}, returning the
// session and its first page of parts.
func (s *Server) handleReadUpload(w http.ResponseWriter, r *http.Request, uploadID string) {
	in, ok := s.store.(UploadIntrospector)
	if !ok {
		writeError(w, "NotImplemented", "This store does not support upload introspection.", http.StatusNotImplemented)
		return
	}

	upload, err := in.ReadUpload(r.Context(), uploadID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	page, err := in.SearchParts(r.Context(), uploadID, "", 100)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSONResponse(w, uploadResponse{Upload: upload, Parts: page.Items})
}

// handleFinishUpload implements POST /uploads/{upload_id}/finish.
func (s *Server) handleFinishUpload(w http.ResponseWriter, r *http.Request, uploadID string) {
	handle, err := s.store.FinishUpload(r.Context(), uploadID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, handle)
}

// handleAbortUpload implements DELETE /uploads/{upload_id}.
func (s *Server) handleAbortUpload(w http.ResponseWriter, r *http.Request, uploadID string) {
	existed, err := s.store.AbortUpload(r.Context(), uploadID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !existed {
		writeError(w, "NotFound", "The specified upload does not exist.", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSavePart implements POST|PUT|PATCH /data/{name}-part/{part_id},
// replacing the slot's content with the request body.
func (s *Server) handleSavePart(w http.ResponseWriter, r *http.Request, partID string) {
	defer r.Body.Close()

	part, err := s.store.SavePart(r.Context(), partID, r.Body)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSONResponse(w, map[string]any{
		"id":            part.ID,
		"part_number":   part.PartNumber,
		"size_in_bytes": part.SizeInBytes,
	})
}

// handleDownload implements GET|HEAD|OPTIONS /data/{name}/{key...} with
// conditional request and single byte-range support.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, key string) {
	handle, err := s.store.ReadFile(r.Context(), key)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	etag := createETag(handle.ETag)
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", handle.UploadedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("Accept-Ranges", "bytes")
	if handle.ContentType != "" {
		w.Header().Set("Content-Type", handle.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	// Conditional checks win over everything else, including Range.
	if matchesETag(r.Header.Get("If-None-Match"), handle.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if since, err := http.ParseTime(ims); err == nil && !handle.UploadedAt.UTC().Truncate(time.Second).After(since) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(handle.SizeInBytes, 10))
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		s.streamContent(w, r, key, 0, handle.SizeInBytes)
		return
	}

	rng, err := parseRange(rangeHeader)
	if err != nil {
		if errors.Is(err, ErrMultipartRangeNotSupported) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", handle.SizeInBytes))
			writeError(w, "RangeNotSatisfiable", "Multipart ranges are not supported.", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		writeError(w, "InvalidRange", "The Range header could not be parsed.", http.StatusBadRequest)
		return
	}
	if !checkRange(rng, handle.SizeInBytes) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", handle.SizeInBytes))
		writeError(w, "RangeNotSatisfiable", "The requested range is not satisfiable.", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	w.Header().Set("Content-Range", rng.ContentRange(handle.SizeInBytes))
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.streamContent(w, r, key, rng.Start, rng.Length())
}

// streamContent copies length bytes of the object starting at offset to
// the response, using the reader's forward seek to skip to the offset.
func (s *Server) streamContent(w http.ResponseWriter, r *http.Request, key string, offset, length int64) {
	reader, err := s.store.OpenContent(r.Context(), key)
	if err != nil {
		// Headers set for the success path would contradict the error body.
		w.Header().Del("Content-Length")
		w.Header().Del("Content-Range")
		writeStoreError(w, err)
		return
	}
	defer reader.Close()

	if offset > 0 {
		if _, err := reader.Seek(offset, io.SeekCurrent); err != nil {
			slog.Error("Seek content", "key", key, "offset", offset, "err", err)
			w.Header().Del("Content-Length")
			w.Header().Del("Content-Range")
			writeError(w, "InternalError", "We encountered an internal error. Please try again.", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.CopyN(w, reader, length); err != nil && err != io.EOF {
		// Headers are gone; all we can do is log.
		slog.Error("Stream content", "key", key, "err", err)
	}
}

type fileSearchResponse struct {
	Items       []FileHandle `json:"items"`
	NextPageKey string       `json:"next_page_key,omitempty"`
	Total       int          `json:"total"`
}

// handleSearchFiles implements GET /files?prefix=&page=&limit=.
func (s *Server) handleSearchFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix := q.Get("prefix")
	pageKey := q.Get("page")

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, "InvalidRequest", "limit must be a positive integer.", http.StatusBadRequest)
			return
		}
		limit = v
	}

	page, err := s.store.SearchFiles(r.Context(), prefix, pageKey, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	total, err := s.store.CountFiles(r.Context(), prefix)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSONResponse(w, fileSearchResponse{
		Items:       page.Items,
		NextPageKey: page.NextPageKey,
		Total:       total,
	})
}

// handleDeleteFile implements DELETE /files/{key...}.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, key string) {
	existed, err := s.store.DeleteFile(r.Context(), key)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !existed {
		writeError(w, "NotFound", "The specified key does not exist.", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createETag formats a hash hex string as an ETag value.
func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}

// matchesETag compares an If-None-Match header against the object's
// ETag, accepting quoted, unquoted, and wildcard forms.
func matchesETag(header, etag string) bool {
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.Trim(strings.TrimSpace(candidate), "\"")
		if candidate == etag {
			return true
		}
	}
	return false
}
