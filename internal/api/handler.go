package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tilegrid/procserve/internal/api/shared"
	"github.com/tilegrid/procserve/internal/domain"
	"github.com/tilegrid/procserve/internal/job"
)

// conformance classes implemented by the API surface.
var conformsTo = []string{
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/core",
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/json",
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/job-list",
	"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/dismiss",
}

// Handler serves the OGC API Processes endpoints on top of the job
// manager.
type Handler struct {
	manager   *job.Manager
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(manager *job.Manager, logger *slog.Logger) *Handler {
	return &Handler{
		manager:   manager,
		validator: validator.New(),
		logger:    logger,
	}
}

// Landing handles GET /.
func (h *Handler) Landing(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, Landing{
		Title:       "procserve",
		Description: "OGC API Processes execution service",
		Links: []Link{
			{Href: "/", Rel: "self", Type: "application/json"},
			{Href: "/conformance", Rel: "conformance", Type: "application/json"},
			{Href: "/processes", Rel: "processes", Type: "application/json"},
			{Href: "/jobs", Rel: "jobs", Type: "application/json"},
		},
	})
}

// GetConformance handles GET /conformance.
func (h *Handler) GetConformance(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, Conformance{ConformsTo: conformsTo})
}

// ListProcesses handles GET /processes.
func (h *Handler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, ProcessList{
		Processes: h.manager.ListProcesses(),
		Links: []Link{
			{Href: "/processes", Rel: "self", Type: "application/json"},
		},
	})
}

// DescribeProcess handles GET /processes/{processID}.
func (h *Handler) DescribeProcess(w http.ResponseWriter, r *http.Request) {
	processID := chi.URLParam(r, "processID")
	desc, err := h.manager.Describe(processID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, desc)
}

// ExecuteProcess handles POST /processes/{processID}/execution. The
// execution mode comes from the request body, or from an OGC
// "Prefer: respond-async" header; async is the default.
func (h *Handler) ExecuteProcess(w http.ResponseWriter, r *http.Request) {
	processID := chi.URLParam(r, "processID")

	var req ExecRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			string(domain.ErrorKindInvalidInput), "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			string(domain.ErrorKindInvalidInput), "invalid execution request: "+err.Error())
		return
	}

	mode := job.ModeAsync
	if req.Mode == string(job.ModeSync) {
		mode = job.ModeSync
	}
	if strings.Contains(r.Header.Get("Prefer"), "respond-async") {
		mode = job.ModeAsync
	}

	result, err := h.manager.Submit(r.Context(), processID, job.SubmitRequest{
		Inputs:  req.Inputs,
		Outputs: req.Outputs,
		Mode:    mode,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	// A finished result (cache hit or sync completion) is returned as
	// the results document; anything still moving gets the status view.
	if result.Record.Status == domain.JobStatusSuccessful && result.Outputs != nil {
		w.Header().Set("Location", "/jobs/"+result.Record.ID)
		shared.RespondWithJSON(w, r, http.StatusOK, result.Outputs)
		return
	}

	w.Header().Set("Location", "/jobs/"+result.Record.ID)
	shared.RespondWithJSON(w, r, http.StatusCreated, jobToStatusInfo(result.Record))
}

// GetJobStatus handles GET /jobs/{jobID}.
func (h *Handler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	record, err := h.manager.GetStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, jobToStatusInfo(record))
}

// GetJobResult handles GET /jobs/{jobID}/results. An optional
// "outputs" query parameter (comma-separated) narrows the response to
// a subset of the outputs requested at submission.
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	var requested []string
	if raw := r.URL.Query().Get("outputs"); raw != "" {
		requested = strings.Split(raw, ",")
	}

	outputs, err := h.manager.GetResult(r.Context(), chi.URLParam(r, "jobID"), requested)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, outputs)
}

// DismissJob handles DELETE /jobs/{jobID}.
func (h *Handler) DismissJob(w http.ResponseWriter, r *http.Request) {
	record, err := h.manager.Dismiss(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, jobToStatusInfo(record))
}

// ListJobs handles GET /jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	records, err := h.manager.ListJobs(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	jobs := make([]JobStatusInfo, 0, len(records))
	for _, record := range records {
		jobs = append(jobs, jobToStatusInfo(record))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobList{
		Jobs: jobs,
		Links: []Link{
			{Href: "/jobs", Rel: "self", Type: "application/json"},
		},
	})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := MapErrorToStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err, "path", r.URL.Path)
	}
	shared.RespondWithError(w, r, status, errType(err), SafeErrorMessage(err))
}

// errType labels an error with its taxonomy name for the response body.
func errType(err error) string {
	switch {
	case errors.Is(err, domain.ErrProcessNotFound):
		return "ProcessNotFound"
	case errors.Is(err, domain.ErrJobNotFound):
		return "JobNotFound"
	case errors.Is(err, domain.ErrResultNotReady):
		return "ResultNotReady"
	case errors.Is(err, domain.ErrJobFailed):
		return "JobFailed"
	case errors.Is(err, domain.ErrJobNotCancelable):
		return "JobNotCancelable"
	default:
		return string(domain.KindOf(err))
	}
}
