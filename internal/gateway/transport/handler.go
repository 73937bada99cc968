package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jwt625/vidbridge/internal/gateway/domain"
)

type Usecase interface {
	Convert(ctx context.Context, req domain.ConvertRequest) (string, error)
	ConvertUpload(ctx context.Context, file io.Reader, filename, kind string) (string, error)
	GetStatus(ctx context.Context, taskID string) (domain.StatusResponse, error)
	GetResultFile(ctx context.Context, taskID, name string) (domain.DownloadResult, error)
}

type handler struct {
	maxUploadBytes int64
	usecase        Usecase
}

func NewHandler(maxUploadBytesMb int64, uc Usecase) *handler {
	return &handler{
		maxUploadBytes: maxUploadBytesMb << 20,
		usecase:        uc,
	}
}

// convert accepts a conversion job: JSON {"url", "kind"} for remote sources,
// or a multipart form with `file` and `kind` fields for direct uploads.
func (h *handler) convert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "convert"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		h.convertUpload(w, r, logger)
		return
	}

	var req domain.ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("bad request body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	taskID, err := h.usecase.Convert(r.Context(), req)
	if err != nil {
		logger.Error("Convert usecase", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger.Info("task accepted", slog.String("task_id", taskID), slog.String("kind", req.Kind))
	writeJSON(w, http.StatusAccepted, domain.ConvertResponse{ID: taskID})
}

func (h *handler) convertUpload(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		logger.Error("ParseMultipartForm", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "unable to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		logger.Warn("missing file field")
		writeError(w, http.StatusBadRequest, "field `file` is required")
		return
	}
	defer file.Close()

	kind := r.FormValue("kind")
	logger = logger.With(slog.String("file_name", header.Filename), slog.String("kind", kind))

	taskID, err := h.usecase.ConvertUpload(r.Context(), file, header.Filename, kind)
	if err != nil {
		logger.Error("ConvertUpload usecase", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger.Info("task accepted", slog.String("task_id", taskID))
	writeJSON(w, http.StatusAccepted, domain.ConvertResponse{ID: taskID})
}

func (h *handler) result(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "result"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	taskID := strings.TrimPrefix(r.URL.Path, "/result/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "missing ID")
		return
	}

	resp, err := h.usecase.GetStatus(r.Context(), taskID)
	if err != nil {
		if err == domain.ErrTaskNotFound {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error("GetStatus", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	switch resp.Status {
	case domain.StatusDone:
		writeJSON(w, http.StatusOK, resp)
	case domain.StatusFailed:
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		writeJSON(w, http.StatusAccepted, resp)
	}
}

// download serves /download/{id} for single-output jobs and
// /download/{id}/{file} for archive extractions.
func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "download"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	rest := strings.TrimPrefix(r.URL.Path, "/download/")
	taskID, name, _ := strings.Cut(rest, "/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "missing ID")
		return
	}

	result, err := h.usecase.GetResultFile(r.Context(), taskID, name)
	if err != nil {
		switch err {
		case domain.ErrTaskNotFound:
			writeError(w, http.StatusNotFound, "task not found")
		case domain.ErrFileNotFound:
			writeError(w, http.StatusNotFound, "file not found")
		case domain.ErrTaskFailed:
			writeJSON(w, http.StatusConflict, domain.StatusResponse{
				ID:     taskID,
				Status: domain.StatusFailed,
				Error:  "task failed",
			})
		case domain.ErrTaskNotReady:
			writeJSON(w, http.StatusTooEarly, domain.StatusResponse{
				ID:     taskID,
				Status: domain.StatusProcessing,
				Error:  "result is not ready yet",
			})
		default:
			logger.Error("GetResultFile", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cannot get result file")
		}
		return
	}
	defer result.Content.Close()

	mediaType := result.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Disposition",
		`attachment; filename="`+result.FileName+`"`)

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, result.Content); err != nil {
		logger.Error("download: send file",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	resp := domain.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
