package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"hairgen/internal/hairgen"
	"hairgen/internal/middleware"
)

type generateRequest struct {
	ImageBase64  string `json:"image_base64"`
	MIMEType     string `json:"mime_type"`
	Style        string `json:"style"`
	Prompt       string `json:"prompt"`
	PreferPreset bool   `json:"prefer_preset"`
	Gender       string `json:"gender"`
	HairColor    string `json:"hair_color"`
	OutputFormat string `json:"output_format"`
	Seed         *int   `json:"seed"`
}

type progressEntry struct {
	Phase   string `json:"phase"`
	Percent int    `json:"percent"`
}

type generateResponse struct {
	Output             string          `json:"output"`
	Provider           string          `json:"provider"`
	JobID              string          `json:"job_id"`
	ConsistencyReduced bool            `json:"consistency_reduced"`
	ElapsedMS          int64           `json:"elapsed_ms"`
	Progress           []progressEntry `json:"progress"`
}

// Generate runs one hair generation job synchronously and answers with the
// normalized outcome or a single classified error. The connection is held
// for the job's lifetime; client disconnects cancel it through the request
// context.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.json(w, http.StatusBadRequest, errorResponse{
			Code:       "BAD_REQUEST",
			MessageKey: "error.bad_request",
			Severity:   string(hairgen.SeverityLow),
			Locale:     locale,
		})
		return
	}
	imageData, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.ImageBase64))
	if err != nil {
		a.classifiedError(w, locale, &hairgen.ClassifiedError{
			Code:       hairgen.CodeValidationImage,
			Severity:   hairgen.SeverityLow,
			MessageKey: hairgen.MessageKeyFor(hairgen.CodeValidationImage),
		})
		return
	}

	var progress []progressEntry
	outcome, genErr := a.Orchestrator.Generate(r.Context(), hairgen.GenerationRequest{
		Image: hairgen.SourceImage{
			Data:     imageData,
			MIMEType: req.MIMEType,
		},
		Style:        req.Style,
		Prompt:       req.Prompt,
		PreferPreset: req.PreferPreset,
		Gender:       req.Gender,
		HairColor:    req.HairColor,
		OutputFormat: req.OutputFormat,
		Seed:         req.Seed,
	}, nil, func(ev hairgen.ProgressEvent) {
		progress = append(progress, progressEntry{Phase: string(ev.Phase), Percent: ev.Percent})
	})
	if genErr != nil {
		var cerr *hairgen.ClassifiedError
		if errors.As(genErr, &cerr) {
			a.Logger.Warn().
				Str("request_id", middleware.RequestIDFromContext(r.Context())).
				Str("code", string(cerr.Code)).
				Msg("generate failed")
			a.classifiedError(w, locale, cerr)
			return
		}
		a.json(w, http.StatusInternalServerError, errorResponse{
			Code:       string(hairgen.CodeUnknown),
			MessageKey: hairgen.MessageKeyFor(hairgen.CodeUnknown),
			Severity:   string(hairgen.SeverityMedium),
			Locale:     locale,
		})
		return
	}

	a.json(w, http.StatusOK, generateResponse{
		Output:             outcome.Output,
		Provider:           outcome.Provider,
		JobID:              outcome.JobID,
		ConsistencyReduced: outcome.ConsistencyReduced,
		ElapsedMS:          outcome.Elapsed.Milliseconds(),
		Progress:           progress,
	})
}
