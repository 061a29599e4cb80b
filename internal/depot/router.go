package depot

import (
	"fmt"
	"net/http"

	"depot/internal/auth"
)

// Handler returns the HTTP API for the server's store. Mutating routes
// are gated behind the given auth engine; downloads and searches stay
// public. A nil engine leaves every route open.
func (s *Server) Handler(engine auth.AuthEngine) http.Handler {
	mux := http.NewServeMux()

	// Upload session lifecycle
	mux.Handle("POST /uploads", RequireAuthentication(engine, http.HandlerFunc(s.handleBeginUpload)))
	mux.HandleFunc("GET /uploads/{upload_id}", func(w http.ResponseWriter, r *http.Request) {
		s.handleReadUpload(w, r, r.PathValue("upload_id"))
	})
	mux.Handle("POST /uploads/{upload_id}/finish", RequireAuthentication(engine, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handleFinishUpload(w, r, r.PathValue("upload_id"))
	})))
	mux.Handle("DELETE /uploads/{upload_id}", RequireAuthentication(engine, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handleAbortUpload(w, r, r.PathValue("upload_id"))
	})))

	// Part content
	savePart := RequireAuthentication(engine, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handleSavePart(w, r, r.PathValue("part_id"))
	}))
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch} {
		mux.Handle(fmt.Sprintf("%s /data/%s-part/{part_id}", method, s.name), savePart)
	}

	// Downloads
	download := func(w http.ResponseWriter, r *http.Request) {
		s.handleDownload(w, r, r.PathValue("key"))
	}
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		mux.HandleFunc(fmt.Sprintf("%s /data/%s/{key...}", method, s.name), download)
	}

	// File handle registry
	mux.HandleFunc("GET /files", s.handleSearchFiles)
	mux.Handle("DELETE /files/{key...}", RequireAuthentication(engine, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handleDeleteFile(w, r, r.PathValue("key"))
	})))

	return LogRequest(Recoverer(SlashFix(mux)))
}
