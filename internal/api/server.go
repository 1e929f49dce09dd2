package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pbaille/akten/internal/classifier"
	"github.com/pbaille/akten/internal/domain"
	"github.com/pbaille/akten/internal/observability"
	"github.com/pbaille/akten/internal/preview"
	"github.com/pbaille/akten/internal/session"
	"go.uber.org/zap"
)

const (
	maxUploadSize  = 32 << 20
	thumbnailWidth = 320
)

// Server handles HTTP requests for the document archive API
type Server struct {
	session    *session.Session
	classifier *classifier.Classifier
	metrics    *observability.Metrics
	log        *zap.Logger
}

// New creates a new API server. clf and metrics may be nil.
func New(sess *session.Session, clf *classifier.Classifier, metrics *observability.Metrics) *Server {
	return &Server{
		session:    sess,
		classifier: clf,
		metrics:    metrics,
		log:        sess.Logger().Named("api"),
	}
}

// Handler returns the routed API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Folders
	mux.HandleFunc("GET /folders", s.listFolders)
	mux.HandleFunc("POST /folders", s.createFolder)
	mux.HandleFunc("GET /folders/{id}", s.getFolder)
	mux.HandleFunc("DELETE /folders/{id}", s.deleteFolder)
	mux.HandleFunc("GET /folders/{id}/files", s.listFiles)
	mux.HandleFunc("POST /tax-years/{year}", s.ensureTaxYear)

	// Files
	mux.HandleFunc("POST /files", s.addFile)
	mux.HandleFunc("GET /files/{id}", s.getFile)
	mux.HandleFunc("GET /files/{id}/data", s.getFileData)
	mux.HandleFunc("GET /files/{id}/thumbnail", s.getThumbnail)
	mux.HandleFunc("DELETE /files/{id}", s.deleteFile)

	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /health", s.health)

	return withCORS(mux)
}

// Run serves the API on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	return Serve(ctx, addr, s.Handler(), s.log)
}

// Serve runs an HTTP server on addr and shuts it down gracefully when ctx ends
func Serve(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("shutting down server", zap.String("addr", addr))
		return srv.Shutdown(shutdownCtx)
	}
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// FolderResponse is a folder with its derived display state
type FolderResponse struct {
	*domain.Folder
	Locked bool            `json:"locked"`
	Path   []domain.Folder `json:"path,omitempty"`
}

// FileResponse is a file's metadata plus the icon to show for it
type FileResponse struct {
	*domain.File
	Icon string `json:"icon"`
}

func fileResponse(f *domain.File) FileResponse {
	return FileResponse{File: f, Icon: preview.Icon(f.Type)}
}

func (s *Server) listFolders(w http.ResponseWriter, r *http.Request) {
	var parentID *int64
	if p := r.URL.Query().Get("parent"); p != "" {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid parent id")
			return
		}
		parentID = &id
	}

	folders, err := s.session.Tree().ChildFolders(r.Context(), parentID)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	resp := make([]FolderResponse, len(folders))
	for i := range folders {
		resp[i] = FolderResponse{Folder: &folders[i], Locked: s.session.Tree().IsLocked(&folders[i])}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"folders":   resp,
		"parent_id": parentID,
	})
}

// CreateFolderRequest is the request body for creating a folder
type CreateFolderRequest struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

func (s *Server) createFolder(w http.ResponseWriter, r *http.Request) {
	var req CreateFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	f, err := s.session.CreateFolder(r.Context(), req.Name, req.ParentID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) getFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	f, err := s.session.Folder(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	path, err := s.session.Tree().Breadcrumb(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FolderResponse{Folder: f, Locked: s.session.Tree().IsLocked(f), Path: path})
}

func (s *Server) deleteFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.session.Folder(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	if err := s.session.DeleteFolderCascade(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.session.Folder(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}

	files, err := s.session.Tree().Files(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	resp := make([]FileResponse, len(files))
	for i := range files {
		resp[i] = fileResponse(&files[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"files":     resp,
		"folder_id": id,
	})
}

func (s *Server) ensureTaxYear(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil || year < 1900 || year > 9999 {
		writeError(w, http.StatusBadRequest, "invalid year")
		return
	}

	f, err := s.session.Engine().EnsureTaxYear(r.Context(), year)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// addFile accepts a multipart upload. The "data" part is the document;
// the other form fields are its metadata. With classify=true the
// classifier fills in whatever the form leaves blank.
func (s *Server) addFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	part, header, err := r.FormFile("data")
	if err != nil {
		writeError(w, http.StatusBadRequest, "data part is required")
		return
	}
	defer part.Close()
	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return
	}

	req := session.NewFile{
		Name:          r.FormValue("name"),
		Type:          header.Header.Get("Content-Type"),
		Data:          data,
		Summary:       r.FormValue("summary"),
		IsTaxRelevant: formBool(r, "tax_relevant"),
		AddressMatch:  formBool(r, "address_match"),
	}
	if req.Type == "" || req.Type == "application/octet-stream" {
		req.Type = http.DetectContentType(data)
	}
	if req.FolderID, err = strconv.ParseInt(r.FormValue("folder_id"), 10, 64); err != nil {
		writeError(w, http.StatusBadRequest, "invalid folder_id")
		return
	}
	if d := r.FormValue("date"); d != "" {
		if req.Date, err = time.Parse(domain.DateLayout, d); err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}
	if c := r.FormValue("category"); c != "" {
		req.Category = domain.ParseCategory(c)
	}

	if formBool(r, "classify") {
		hints := classifier.OrDefault(r.Context(), s.classifier, data, req.Type, s.log, s.metrics.ClassifierFallback)
		applyHints(&req, hints, r)
	}
	if req.Name == "" {
		req.Name = header.Filename
	}

	filed, err := s.session.AddFile(r.Context(), req)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	copies := make([]FileResponse, len(filed.Copies))
	for i, c := range filed.Copies {
		copies[i] = fileResponse(c)
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"file":   fileResponse(filed.Original),
		"copies": copies,
	})
}

// applyHints fills fields the client did not send from the classifier result.
func applyHints(req *session.NewFile, hints domain.Classification, r *http.Request) {
	if req.Name == "" {
		req.Name = hints.Filename
	}
	if req.Summary == "" {
		req.Summary = hints.Summary
	}
	if req.Category == "" {
		req.Category = hints.Category
	}
	if r.FormValue("tax_relevant") == "" {
		req.IsTaxRelevant = hints.IsTaxRelevant
	}
	if r.FormValue("address_match") == "" {
		req.AddressMatch = hints.ContainsAddress
	}
}

func formBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.FormValue(key))
	return v
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f, err := s.session.File(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fileResponse(f))
}

func (s *Server) getFileData(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f, err := s.session.File(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if f.Type != "" {
		w.Header().Set("Content-Type", f.Type)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", f.Name))
	w.Write(f.Data)
}

func (s *Server) getThumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f, err := s.session.File(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if preview.Icon(f.Type) != preview.IconImage {
		writeError(w, http.StatusUnsupportedMediaType, "no thumbnail for "+f.Type)
		return
	}
	thumb, err := preview.Thumbnail(f.Data, thumbnailWidth)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(thumb)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.session.DeleteFile(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// writeErr maps domain errors onto status codes
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "))
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
