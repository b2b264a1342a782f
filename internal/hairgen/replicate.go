package hairgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ReplicateOptions configures the preset-style provider client.
type ReplicateOptions struct {
	BaseURL    string
	APIToken   string
	Model      string // owner/name, used for schema and latest-version lookup
	Version    string // pinned model version identifier
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// ReplicateClient drives the preset-style provider. The provider preserves
// face and background by contract and only accepts the enumerated
// vocabulary exposed through FetchSchema.
type ReplicateClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	model      string
	version    string
	logger     zerolog.Logger
}

const replicateProviderName = "replicate"

// NewReplicateClient applies defaults in the same fashion as the other
// provider clients: empty base URL falls back to the public endpoint, nil
// HTTP client gets a conservative per-call timeout.
func NewReplicateClient(opts ReplicateOptions) *ReplicateClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.replicate.com/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &ReplicateClient{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIToken),
		model:      strings.Trim(opts.Model, "/"),
		version:    strings.TrimSpace(opts.Version),
		logger:     opts.Logger,
	}
}

func (c *ReplicateClient) Name() string { return replicateProviderName }

type replicatePredictionRequest struct {
	Version string              `json:"version"`
	Input   replicateInputShape `json:"input"`
}

type replicateInputShape struct {
	Image           string `json:"image"`
	Style           string `json:"style"`
	Gender          string `json:"gender"`
	HairColor       string `json:"hair_color"`
	OutputFormat    string `json:"output_format"`
	AspectRatio     string `json:"aspect_ratio"`
	Seed            *int   `json:"seed,omitempty"`
	SafetyTolerance int    `json:"safety_tolerance"`
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
	Detail string          `json:"detail"`
}

// Submit creates a prediction without waiting for it. When the pinned
// model version no longer exists on the provider side, one resubmission
// against the freshly-resolved latest version is attempted before the
// failure is allowed to classify.
func (c *ReplicateClient) Submit(ctx context.Context, req *BuiltRequest) (JobHandle, error) {
	if req == nil || req.Preset == nil {
		return JobHandle{}, errors.New("replicate: preset payload required")
	}
	if c.token == "" {
		return JobHandle{}, &ProviderError{Provider: replicateProviderName, StatusCode: 401, Message: "api token is missing"}
	}

	version := c.version
	handle, err := c.createPrediction(ctx, version, req.Preset)
	if err == nil {
		return handle, nil
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) && isVersionGone(provErr) {
		latest, lookupErr := c.latestVersion(ctx)
		if lookupErr == nil && latest != "" && latest != version {
			c.logger.Warn().
				Str("pinned_version", version).
				Str("latest_version", latest).
				Msg("replicate: pinned version gone, retrying against latest")
			return c.createPrediction(ctx, latest, req.Preset)
		}
	}
	return JobHandle{}, err
}

func (c *ReplicateClient) createPrediction(ctx context.Context, version string, input *PresetInput) (JobHandle, error) {
	payload := replicatePredictionRequest{
		Version: version,
		Input: replicateInputShape{
			Image:           input.ImageDataURI,
			Style:           input.Style,
			Gender:          input.Gender,
			HairColor:       input.HairColor,
			OutputFormat:    input.OutputFormat,
			AspectRatio:     input.AspectRatio,
			Seed:            input.Seed,
			SafetyTolerance: input.SafetyTolerance,
		},
	}

	var pred replicatePrediction
	if err := c.do(ctx, http.MethodPost, "/predictions", payload, &pred); err != nil {
		return JobHandle{}, err
	}
	if pred.ID == "" {
		return JobHandle{}, &ProviderError{Provider: replicateProviderName, StatusCode: 502, Message: "prediction created without id"}
	}
	return JobHandle{ID: pred.ID, Provider: replicateProviderName}, nil
}

// Poll performs one status check. Output arrives from the provider as
// either a single string or an array of strings; both shapes normalize to
// one locator. An empty locator on a succeeded state is preserved as-is so
// the state machine can reject it.
func (c *ReplicateClient) Poll(ctx context.Context, handle JobHandle) (PollResult, error) {
	var pred replicatePrediction
	if err := c.do(ctx, http.MethodGet, "/predictions/"+handle.ID, nil, &pred); err != nil {
		return PollResult{}, err
	}
	state, err := ParseJobState(pred.Status)
	if err != nil {
		return PollResult{}, fmt.Errorf("replicate: %w", err)
	}
	return PollResult{
		State:        state,
		Output:       normalizeOutput(pred.Output),
		ErrorMessage: pred.Error,
	}, nil
}

// Cancel asks the provider to stop the prediction. Best effort only.
func (c *ReplicateClient) Cancel(ctx context.Context, handle JobHandle) bool {
	err := c.do(ctx, http.MethodPost, "/predictions/"+handle.ID+"/cancel", nil, nil)
	if err != nil {
		c.logger.Debug().Err(err).Str("prediction_id", handle.ID).Msg("replicate: cancel not acknowledged")
		return false
	}
	return true
}

// normalizeOutput accepts the provider's string-or-array output field and
// reduces it to a single locator, empty when nothing usable is present.
func normalizeOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, v := range many {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

type replicateModelResponse struct {
	LatestVersion struct {
		ID            string          `json:"id"`
		OpenAPISchema json.RawMessage `json:"openapi_schema"`
	} `json:"latest_version"`
}

func (c *ReplicateClient) latestVersion(ctx context.Context) (string, error) {
	var model replicateModelResponse
	if err := c.do(ctx, http.MethodGet, "/models/"+c.model, nil, &model); err != nil {
		return "", err
	}
	return model.LatestVersion.ID, nil
}

// FetchSchema resolves the active model version and extracts the
// enumerated style, color, and output-format vocabularies from its
// declared input schema. Fields the schema does not enumerate come back
// empty; the cache keeps prior values for those.
func (c *ReplicateClient) FetchSchema(ctx context.Context) (*ModelSchema, error) {
	if c.model == "" {
		return nil, errors.New("replicate: model not configured")
	}
	var model replicateModelResponse
	if err := c.do(ctx, http.MethodGet, "/models/"+c.model, nil, &model); err != nil {
		return nil, err
	}
	if model.LatestVersion.ID == "" {
		return nil, errors.New("replicate: model has no published version")
	}

	schema := &ModelSchema{
		ModelVersion: model.LatestVersion.ID,
		FetchedAt:    time.Now(),
	}
	if len(model.LatestVersion.OpenAPISchema) > 0 {
		var doc map[string]any
		if err := json.Unmarshal(model.LatestVersion.OpenAPISchema, &doc); err == nil {
			schema.Styles = extractEnum(doc, "style")
			schema.Colors = extractEnum(doc, "hair_color")
			schema.OutputFormats = extractEnum(doc, "output_format")
		}
	}
	return schema, nil
}

// extractEnum walks an OpenAPI document for the enum of one Input
// property. Enums appear either inline on the property or behind an allOf
// reference into components/schemas, as the provider publishes both shapes.
func extractEnum(doc map[string]any, property string) []string {
	schemas, ok := dig(doc, "components", "schemas")
	if !ok {
		return nil
	}
	properties, ok := dig(schemas, "Input", "properties")
	if !ok {
		return nil
	}
	prop, ok := properties[property].(map[string]any)
	if !ok {
		return nil
	}
	if values := enumStrings(prop["enum"]); len(values) > 0 {
		return values
	}
	allOf, _ := prop["allOf"].([]any)
	for _, entry := range allOf {
		ref, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		refPath, _ := ref["$ref"].(string)
		name := strings.TrimPrefix(refPath, "#/components/schemas/")
		if name == "" || name == refPath {
			continue
		}
		if target, ok := schemas[name].(map[string]any); ok {
			if values := enumStrings(target["enum"]); len(values) > 0 {
				return values
			}
		}
	}
	return nil
}

func dig(doc map[string]any, keys ...string) (map[string]any, bool) {
	current := doc
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func enumStrings(raw any) []string {
	entries, ok := raw.([]any)
	if !ok {
		return nil
	}
	var values []string
	for _, entry := range entries {
		if s, ok := entry.(string); ok && strings.TrimSpace(s) != "" {
			values = append(values, s)
		}
	}
	return values
}

func (c *ReplicateClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return &ProviderError{
			Provider:   replicateProviderName,
			StatusCode: resp.StatusCode,
			Message:    decodeProviderMessage(resp.Body),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}

func decodeProviderMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	var shaped struct {
		Detail string `json:"detail"`
		Title  string `json:"title"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &shaped); err == nil {
		for _, m := range []string{shaped.Detail, shaped.Title, shaped.Error} {
			if strings.TrimSpace(m) != "" {
				return strings.TrimSpace(m)
			}
		}
	}
	return strings.TrimSpace(string(data))
}

var (
	_ Provider     = (*ReplicateClient)(nil)
	_ SchemaSource = (*ReplicateClient)(nil)
)
