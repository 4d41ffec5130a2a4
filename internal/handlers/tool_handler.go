package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/autonest/backend/internal/execution"
	"github.com/autonest/backend/internal/ledger"
	"github.com/autonest/backend/internal/middleware"
	"github.com/autonest/backend/internal/services"
)

const maxJSONBody = 1 << 20

// ToolAdapter is satisfied by *execution.Adapter.
type ToolAdapter interface {
	ValidateInput(tool string, input any) error
	SuggestKeywords(ctx context.Context, in execution.KeywordInput) (*execution.Result, error)
	GenerateBlog(ctx context.Context, in execution.BlogInput) (*execution.Result, error)
	GenerateLinkedInPost(ctx context.Context, in execution.LinkedInInput) (*execution.Result, error)
	Transcribe(ctx context.Context, in execution.TranscriptionInput) (*execution.Result, error)
}

// ToolRunner is satisfied by *services.Runner.
type ToolRunner interface {
	Run(ctx context.Context, accountID string, spec services.RunSpec) (*services.RunResult, error)
}

// ToolPricing resolves a tool's credit cost. It is satisfied by *registry.Catalog.
type ToolPricing interface {
	Cost(tool string) (int64, bool)
}

// ToolHandler serves POST /api/tools/{tool}.
type ToolHandler struct {
	Tools          ToolAdapter
	Runner         ToolRunner
	Pricing        ToolPricing
	MaxUploadBytes int64
	Logger         *slog.Logger
}

func NewToolHandler(tools ToolAdapter, runner ToolRunner, pricing ToolPricing, maxUploadBytes int64, log *slog.Logger) *ToolHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ToolHandler{
		Tools:          tools,
		Runner:         runner,
		Pricing:        pricing,
		MaxUploadBytes: maxUploadBytes,
		Logger:         log.With("component", "tool-handler"),
	}
}

type toolRunResponse struct {
	*services.RunResult
	RawResponse string `json:"rawResponse,omitempty"`
}

func (h *ToolHandler) Run(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	tool := r.PathValue("tool")
	cost, ok := h.Pricing.Cost(tool)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown tool %q", tool), "")
		return
	}

	spec, closeInput, err := h.buildSpec(w, r, tool)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
			return
		}
		if errors.Is(err, execution.ErrValidation) {
			writeError(w, http.StatusUnprocessableEntity, "invalid tool input", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	defer closeInput()
	spec.Cost = cost

	res, err := h.Runner.Run(r.Context(), acc.ID, spec)
	if err != nil {
		h.writeRunError(w, tool, err)
		return
	}

	resp := toolRunResponse{RunResult: res}
	if debug, _ := strconv.ParseBool(r.URL.Query().Get("debug")); debug {
		resp.RawResponse = res.RawResponse
	}
	writeJSON(w, http.StatusOK, resp)
}

// buildSpec decodes and validates the tool input before any credits are at
// stake. The returned func releases the upload, if any.
func (h *ToolHandler) buildSpec(w http.ResponseWriter, r *http.Request, tool string) (services.RunSpec, func(), error) {
	if tool == execution.ToolAudioTranscription {
		return h.transcriptionSpec(w, r)
	}
	spec, err := h.jsonSpec(w, r, tool)
	return spec, func() {}, err
}

func (h *ToolHandler) jsonSpec(w http.ResponseWriter, r *http.Request, tool string) (services.RunSpec, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		return services.RunSpec{}, err
	}
	if !json.Valid(raw) {
		return services.RunSpec{}, errors.New("body is not valid JSON")
	}
	if err := h.Tools.ValidateInput(tool, json.RawMessage(raw)); err != nil {
		return services.RunSpec{}, err
	}
	var details map[string]any
	if err := json.Unmarshal(raw, &details); err != nil {
		return services.RunSpec{}, err
	}

	spec := services.RunSpec{Tool: tool, Input: details}
	switch tool {
	case execution.ToolKeywordSuggestion:
		var in execution.KeywordInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return services.RunSpec{}, err
		}
		spec.Invoke = func(ctx context.Context) (*execution.Result, error) { return h.Tools.SuggestKeywords(ctx, in) }
	case execution.ToolBlogGeneration:
		var in execution.BlogInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return services.RunSpec{}, err
		}
		spec.Invoke = func(ctx context.Context) (*execution.Result, error) { return h.Tools.GenerateBlog(ctx, in) }
	case execution.ToolLinkedInPost:
		var in execution.LinkedInInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return services.RunSpec{}, err
		}
		spec.Invoke = func(ctx context.Context) (*execution.Result, error) { return h.Tools.GenerateLinkedInPost(ctx, in) }
	default:
		return services.RunSpec{}, fmt.Errorf("tool %q has no JSON input", tool)
	}
	return spec, nil
}

func (h *ToolHandler) transcriptionSpec(w http.ResponseWriter, r *http.Request) (services.RunSpec, func(), error) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return services.RunSpec{}, nil, fmt.Errorf("parse upload: %w", err)
	}
	f, fh, err := r.FormFile("file")
	if err != nil {
		return services.RunSpec{}, nil, fmt.Errorf("%w: missing audio file", execution.ErrValidation)
	}
	in := execution.TranscriptionInput{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Language:    r.FormValue("language"),
		File:        f,
	}
	if err := h.Tools.ValidateInput(execution.ToolAudioTranscription, in); err != nil {
		f.Close()
		return services.RunSpec{}, nil, err
	}
	details := map[string]any{"fileName": in.FileName, "contentType": in.ContentType, "size": in.Size}
	if in.Language != "" {
		details["language"] = in.Language
	}
	return services.RunSpec{
		Tool:  execution.ToolAudioTranscription,
		Input: details,
		Invoke: func(ctx context.Context) (*execution.Result, error) {
			return h.Tools.Transcribe(ctx, in)
		},
	}, func() { f.Close() }, nil
}

func (h *ToolHandler) writeRunError(w http.ResponseWriter, tool string, err error) {
	var (
		cfgErr       *execution.ConfigurationError
		upstreamErr  *execution.UpstreamError
		malformedErr *execution.MalformedResponseError
		shapeErr     *execution.UnrecognizedShapeError
		outputErr    *execution.OutputValidationError
	)
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits", "")
	case errors.Is(err, ledger.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found", "")
	case errors.As(err, &cfgErr):
		h.Logger.Error("tool webhook not configured", "tool", tool)
		writeError(w, http.StatusInternalServerError, "tool is not configured", "")
	case errors.Is(err, execution.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "tool timed out", "")
	case errors.As(err, &upstreamErr):
		writeError(w, http.StatusBadGateway, "tool service returned an error", fmt.Sprintf("upstream status %d", upstreamErr.Status))
	case errors.As(err, &malformedErr), errors.As(err, &shapeErr), errors.As(err, &outputErr):
		writeError(w, http.StatusBadGateway, "tool returned an unusable response", err.Error())
	case errors.Is(err, execution.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "invalid tool input", err.Error())
	default:
		h.Logger.Error("tool run failed", "tool", tool, "error", err)
		writeError(w, http.StatusInternalServerError, "tool run failed", "")
	}
}
