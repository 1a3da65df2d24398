package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/bill-ledger/internal/ledger"
	"github.com/zombor/bill-ledger/internal/report"
)

const maxUploadSize = int64(50 << 20) // 50MB

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps pipeline errors to HTTP status codes
func statusFor(err error) int {
	var schemaErr *ledger.SchemaError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyIngested), errors.Is(err, ErrExists):
		return http.StatusConflict
	case errors.As(err, &schemaErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	bills, err := s.service.ListBills()
	if err != nil {
		slog.Error("Error listing bills", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := s.service.GetBill(r.PathValue("source"))
	if err != nil {
		writeError(w, statusFor(err), "Bill not found")
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

func (s *Server) handleUploadBill(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB.")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file")
		return
	}

	// Keep HEIC/HEIF types so conversion can detect them
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "application/octet-stream" {
		contentType = ""
	}

	result, err := s.service.Upload(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error processing bill", "filename", header.Filename, "error", err)
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadRequest
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	rows, err := s.service.ListRecords()
	if err != nil {
		slog.Error("Error listing records", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.ListRuns()
	if err != nil {
		slog.Error("Error listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Consolidate(r.Context())
	if err != nil {
		slog.Error("Error consolidating bills", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Snapshot()
	if err != nil {
		slog.Error("Error building snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.serveReportFile(w, report.MarkdownFile, "text/markdown; charset=utf-8")
}

func (s *Server) handleReportFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	contentType := "text/markdown; charset=utf-8"
	if strings.HasSuffix(name, ".png") {
		contentType = "image/png"
	}
	s.serveReportFile(w, name, contentType)
}

func (s *Server) serveReportFile(w http.ResponseWriter, name, contentType string) {
	data, err := s.service.ReportFile(name)
	if err != nil {
		code := statusFor(err)
		if code != http.StatusNotFound {
			slog.Error("Error serving report", "file", name, "error", err)
		}
		writeError(w, code, http.StatusText(code))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}
