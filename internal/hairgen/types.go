package hairgen

import "time"

// SourceImage is the caller-supplied portrait payload. The orchestrator
// validates the declared MIME type and size itself and does not trust the
// capture/selection side.
type SourceImage struct {
	Data     []byte
	MIMEType string
	Name     string
}

// GenerationRequest describes one hair restyle of a portrait photo.
//
// Exactly one of Style and Prompt is the effective styling directive. When
// both are set, Style wins only if PreferPreset is set; otherwise prompt
// mode is used and Style is ignored.
type GenerationRequest struct {
	Image        SourceImage
	Style        string
	Prompt       string
	PreferPreset bool
	Gender       string
	HairColor    string
	OutputFormat string
	Seed         *int
}

// GenerationOutcome is the normalized success result of one job.
type GenerationOutcome struct {
	Output             string
	Provider           string
	JobID              string
	ConsistencyReduced bool
	Elapsed            time.Duration
	Polls              int
}

// Phase is the normalized progress phase reported to the caller.
type Phase string

const (
	PhasePreparing  Phase = "preparing"
	PhaseUploading  Phase = "uploading"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// ProgressEvent is emitted to the caller-supplied sink while a job runs.
// Events for a single job arrive in non-decreasing percent order.
type ProgressEvent struct {
	Phase            Phase
	Percent          int
	EstimatedSeconds *int
	Label            string
}

// ProgressFunc receives progress events. It may be nil.
type ProgressFunc func(ProgressEvent)

// Defaults fills request fields the caller left unspecified.
type Defaults struct {
	Gender    string
	HairColor string
}

// HairColorUnchanged asks the provider to keep the subject's current color.
const HairColorUnchanged = "no change"

func (d Defaults) withFallbacks() Defaults {
	if d.Gender == "" {
		d.Gender = "female"
	}
	if d.HairColor == "" {
		d.HairColor = HairColorUnchanged
	}
	return d
}
