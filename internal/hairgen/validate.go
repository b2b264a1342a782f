package hairgen

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// MaxImageBytes is the decoded-size ceiling for source portraits.
const MaxImageBytes = 10 << 20

var allowedImageMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Mode selects which provider a built request routes to.
type Mode string

const (
	ModePreset Mode = "preset"
	ModePrompt Mode = "prompt"
)

// BuiltRequest is the fully-populated provider payload plus routing
// decision produced by BuildRequest. Exactly one of Preset and PromptEdit
// is non-nil, matching Mode.
type BuiltRequest struct {
	Mode               Mode
	ConsistencyReduced bool
	Preset             *PresetInput
	PromptEdit         *PromptEditInput
}

// PresetInput is the preset-provider payload shape.
type PresetInput struct {
	ImageDataURI    string
	Style           string
	Gender          string
	HairColor       string
	OutputFormat    string
	AspectRatio     string
	Seed            *int
	SafetyTolerance int
}

// PromptEditInput is the prompt-provider payload shape.
type PromptEditInput struct {
	ImageDataURI string
	Instruction  string
	Seed         *int
}

func validationError(code Code, field, diagnostic string) *ClassifiedError {
	return newClassified(code, SeverityLow, false, "validate",
		fmt.Sprintf("%s: %s", field, diagnostic), nil)
}

// BuildRequest converts a GenerationRequest into exactly one provider
// payload, or fails fast with a classified validation error before any
// network call is made. The decision is a pure function of the request,
// the schema snapshot, and the configured defaults.
func BuildRequest(req GenerationRequest, schema *ModelSchema, defaults Defaults) (*BuiltRequest, *ClassifiedError) {
	if len(req.Image.Data) == 0 {
		return nil, validationError(CodeValidationImage, "image", "empty payload")
	}
	mimeType := strings.ToLower(strings.TrimSpace(req.Image.MIMEType))
	if !allowedImageMIMETypes[mimeType] {
		return nil, validationError(CodeValidationImage, "image", fmt.Sprintf("unsupported type %q", mimeType))
	}
	if len(req.Image.Data) > MaxImageBytes {
		return nil, validationError(CodeValidationImage, "image", fmt.Sprintf("%d bytes exceeds %d byte limit", len(req.Image.Data), MaxImageBytes))
	}

	defaults = defaults.withFallbacks()
	prompt := strings.TrimSpace(req.Prompt)
	style := strings.TrimSpace(req.Style)
	dataURI := imageDataURI(req.Image)

	promptMode := prompt != "" && !(req.PreferPreset && style != "")
	if promptMode {
		return &BuiltRequest{
			Mode:               ModePrompt,
			ConsistencyReduced: true,
			PromptEdit: &PromptEditInput{
				ImageDataURI: dataURI,
				Instruction:  prompt,
				Seed:         req.Seed,
			},
		}, nil
	}

	if style == "" {
		return nil, validationError(CodeValidationStyle, "style", "neither preset style nor prompt supplied")
	}
	if !schema.HasStyle(style) {
		return nil, validationError(CodeValidationStyle, "style", fmt.Sprintf("%q not accepted by current model", style))
	}

	color := strings.TrimSpace(req.HairColor)
	if color == "" {
		color = defaults.HairColor
	}
	if !strings.EqualFold(color, HairColorUnchanged) && !schema.HasColor(color) {
		return nil, validationError(CodeValidationStyle, "hair_color", fmt.Sprintf("%q not accepted by current model", color))
	}

	format := strings.ToLower(strings.TrimSpace(req.OutputFormat))
	if format == "" {
		format = "png"
	}
	if !schema.HasOutputFormat(format) {
		return nil, validationError(CodeValidationStyle, "output_format", fmt.Sprintf("%q not accepted by current model", format))
	}

	gender := strings.TrimSpace(req.Gender)
	if gender == "" {
		gender = defaults.Gender
	}

	return &BuiltRequest{
		Mode: ModePreset,
		Preset: &PresetInput{
			ImageDataURI:    dataURI,
			Style:           style,
			Gender:          gender,
			HairColor:       color,
			OutputFormat:    format,
			AspectRatio:     "match_input_image",
			Seed:            req.Seed,
			SafetyTolerance: 2,
		},
	}, nil
}

func imageDataURI(img SourceImage) string {
	return fmt.Sprintf("data:%s;base64,%s", strings.ToLower(strings.TrimSpace(img.MIMEType)),
		base64.StdEncoding.EncodeToString(img.Data))
}
