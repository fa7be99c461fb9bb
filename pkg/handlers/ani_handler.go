package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/apperrors"
	"github.com/gtdb/ani-engine/pkg/config"
	"github.com/gtdb/ani-engine/pkg/models"
	"github.com/gtdb/ani-engine/pkg/params"
	"github.com/gtdb/ani-engine/pkg/services"
)

const (
	// multipartMemory is the part of a multipart body kept in memory; the rest spills to disk.
	multipartMemory = 32 << 20
	// jsonBodyLimit bounds plain JSON submissions and validation requests.
	jsonBodyLimit = 4 << 20
)

// SubmitResponse is returned for an accepted (or deduplicated) submission.
type SubmitResponse struct {
	JobID string `json:"jobId"`
}

// ConfigResponse is the static configuration surface.
type ConfigResponse struct {
	config.Limits
	SupportedPrograms []params.Program `json:"supportedPrograms"`
}

// ValidateRequest lists accessions to check against the mirror and taxonomy.
type ValidateRequest struct {
	Accessions []string `json:"accessions"`
}

// ANIHandler exposes the ANI job core over HTTP.
type ANIHandler struct {
	submissions services.SubmissionService
	queue       services.QueueService
	results     services.ResultService
	heatmaps    services.HeatmapService
	validation  services.ValidationService
	cfg         *config.ANIConfig
	logger      *zap.Logger
}

// NewANIHandler creates a new ANIHandler.
func NewANIHandler(
	submissions services.SubmissionService,
	queue services.QueueService,
	results services.ResultService,
	heatmaps services.HeatmapService,
	validation services.ValidationService,
	cfg *config.ANIConfig,
	logger *zap.Logger,
) *ANIHandler {
	return &ANIHandler{
		submissions: submissions,
		queue:       queue,
		results:     results,
		heatmaps:    heatmaps,
		validation:  validation,
		cfg:         cfg,
		logger:      logger.Named("ani-handler"),
	}
}

// RegisterRoutes registers the ANI routes on the given mux.
func (h *ANIHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/ani"
	mux.HandleFunc("GET "+base+"/config", h.Config)
	mux.HandleFunc("POST "+base+"/validate", h.Validate)
	mux.HandleFunc("POST "+base+"/jobs", h.Submit)
	mux.HandleFunc("GET "+base+"/jobs/{job}", h.Status)
	mux.HandleFunc("GET "+base+"/jobs/{job}/table", h.Table)
	mux.HandleFunc("GET "+base+"/jobs/{job}/heatmap", h.Heatmap)
}

// Submit handles POST /api/ani/jobs. The body is either a JSON JobRequest or
// a multipart form with a "request" JSON field, an optional "uploadMetadata"
// JSON field and one "files" part per uploaded genome.
func (h *ANIHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var (
		req models.JobRequest
		err error
	)
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, h.multipartLimit())
		var files []multipart.File
		req, files, err = h.decodeMultipart(r)
		defer func() {
			for _, f := range files {
				_ = f.Close()
			}
		}()
		if r.MultipartForm != nil {
			defer func() { _ = r.MultipartForm.RemoveAll() }()
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, jsonBodyLimit)
		err = decodeJSON(r, &req)
	}
	if err != nil {
		writeServiceError(w, h.logger, "submit", err)
		return
	}

	name, err := h.submissions.CreateJob(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "submit", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, SubmitResponse{JobID: name}); err != nil {
		h.logger.Error("Failed to encode submit response", zap.Error(err))
	}
}

// Status handles GET /api/ani/jobs/{job}.
func (h *ANIHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.queue.Status(r.Context(), r.PathValue("job"))
	if err != nil {
		writeServiceError(w, h.logger, "status", err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, status); err != nil {
		h.logger.Error("Failed to encode status response", zap.Error(err))
	}
}

// Table handles GET /api/ani/jobs/{job}/table?dropSelf=&dropZero=&nullsAsZero=.
func (h *ANIHandler) Table(w http.ResponseWriter, r *http.Request) {
	var opts models.TableOptions
	q := r.URL.Query()
	for _, opt := range []struct {
		name string
		dst  *bool
	}{
		{"dropSelf", &opts.DropSelf},
		{"dropZero", &opts.DropZero},
		{"nullsAsZero", &opts.NullsAsZero},
	} {
		v, err := queryBool(q.Get(opt.name))
		if err != nil {
			writeServiceError(w, h.logger, "table", apperrors.BadRequest("invalid %s %q", opt.name, q.Get(opt.name)))
			return
		}
		*opt.dst = v
	}

	table, err := h.results.Table(r.Context(), r.PathValue("job"), opts)
	if err != nil {
		writeServiceError(w, h.logger, "table", err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, table); err != nil {
		h.logger.Error("Failed to encode table response", zap.Error(err))
	}
}

// Heatmap handles GET /api/ani/jobs/{job}/heatmap?method=ani|af.
func (h *ANIHandler) Heatmap(w http.ResponseWriter, r *http.Request) {
	method := models.HeatmapMethod(r.URL.Query().Get("method"))
	if method == "" {
		method = models.MethodANI
	}

	hm, err := h.heatmaps.Heatmap(r.Context(), r.PathValue("job"), method)
	if err != nil {
		writeServiceError(w, h.logger, "heatmap", err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, hm); err != nil {
		h.logger.Error("Failed to encode heatmap response", zap.Error(err))
	}
}

// Validate handles POST /api/ani/validate.
func (h *ANIHandler) Validate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, jsonBodyLimit)
	var req ValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, h.logger, "validate", err)
		return
	}

	out, err := h.validation.ValidateGenomes(r.Context(), req.Accessions)
	if err != nil {
		writeServiceError(w, h.logger, "validate", err)
		return
	}
	if out == nil {
		out = []models.GenomeValidation{}
	}
	if err := WriteJSON(w, http.StatusOK, out); err != nil {
		h.logger.Error("Failed to encode validation response", zap.Error(err))
	}
}

// Config handles GET /api/ani/config.
func (h *ANIHandler) Config(w http.ResponseWriter, r *http.Request) {
	response := ConfigResponse{
		Limits:            h.cfg.Limits(),
		SupportedPrograms: params.Programs(h.cfg.SupportedVersions),
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode config response", zap.Error(err))
	}
}

// multipartLimit bounds a whole multipart body: every allowed file at its
// ceiling plus room for the form fields.
func (h *ANIHandler) multipartLimit() int64 {
	return int64(h.cfg.MaxUserFileCount)*h.cfg.MaxUploadBytes() + jsonBodyLimit
}

func (h *ANIHandler) decodeMultipart(r *http.Request) (models.JobRequest, []multipart.File, error) {
	var req models.JobRequest
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, nil, apperrors.BadRequest("request body is larger than %d bytes", tooLarge.Limit)
		}
		return req, nil, apperrors.BadRequest("malformed multipart body")
	}

	raw := r.MultipartForm.Value["request"]
	if len(raw) != 1 {
		return req, nil, apperrors.BadRequest("multipart body must carry exactly one request field")
	}
	if err := json.Unmarshal([]byte(raw[0]), &req); err != nil {
		return req, nil, apperrors.BadRequest("malformed request field: %s", jsonReason(err))
	}

	if meta := r.MultipartForm.Value["uploadMetadata"]; len(meta) > 0 {
		var m models.UploadMetadata
		if err := json.Unmarshal([]byte(meta[0]), &m); err != nil {
			return req, nil, apperrors.BadRequest("malformed uploadMetadata field: %s", jsonReason(err))
		}
		req.UploadMetadata = &m
	}

	headers := r.MultipartForm.File["files"]
	files := make([]multipart.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return req, files, apperrors.BadRequest("failed to read uploaded file %q", fh.Filename)
		}
		files = append(files, f)
		req.Files = append(req.Files, models.UploadBody{
			FileName: fh.Filename,
			Size:     fh.Size,
			Body:     f,
		})
	}
	return req, files, nil
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.BadRequest("request body is larger than %d bytes", tooLarge.Limit)
		}
		return apperrors.BadRequest("malformed request body: %s", jsonReason(err))
	}
	return nil
}

func jsonReason(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field %q has the wrong type", typeErr.Field)
	}
	return "invalid JSON"
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func queryBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
