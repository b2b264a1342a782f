package hairgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PromptEditOptions configures the free-form prompt provider client.
type PromptEditOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// PromptEditClient wraps a single-call image edit endpoint behind the
// polling Provider contract. The provider answers the creation call with
// either a generated image or an error, so Submit captures that response
// as an already-terminal PollResult which the first Poll hands back.
//
// Face and background preservation is not contractually guaranteed here;
// every job routed this way is flagged consistency-reduced by the builder.
type PromptEditClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	model      string
	logger     zerolog.Logger

	mu      sync.Mutex
	results map[string]PollResult
}

const promptEditProviderName = "promptedit"

func NewPromptEditClient(opts PromptEditOptions) *PromptEditClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "qwen-image-edit"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &PromptEditClient{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIKey),
		model:      model,
		logger:     opts.Logger,
		results:    make(map[string]PollResult),
	}
}

func (c *PromptEditClient) Name() string { return promptEditProviderName }

type promptEditRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []promptEditMessage `json:"messages"`
	} `json:"input"`
	Parameters struct {
		Watermark bool `json:"watermark"`
		Seed      *int `json:"seed,omitempty"`
	} `json:"parameters"`
}

type promptEditMessage struct {
	Role    string              `json:"role"`
	Content []map[string]string `json:"content"`
}

type promptEditResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []map[string]string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Submit performs the provider's one-shot edit call and records its
// terminal result under a locally-generated handle. HTTP and transport
// failures surface as submit errors (and stay eligible for the retry
// policy); a well-formed response that reports a generation error becomes
// a terminal failed PollResult instead.
func (c *PromptEditClient) Submit(ctx context.Context, req *BuiltRequest) (JobHandle, error) {
	if req == nil || req.PromptEdit == nil {
		return JobHandle{}, errors.New("promptedit: prompt payload required")
	}
	if c.token == "" {
		return JobHandle{}, &ProviderError{Provider: promptEditProviderName, StatusCode: 401, Message: "api key is missing"}
	}

	var payload promptEditRequest
	payload.Model = c.model
	payload.Input.Messages = []promptEditMessage{{
		Role: "user",
		Content: []map[string]string{
			{"image": req.PromptEdit.ImageDataURI},
			{"text": req.PromptEdit.Instruction},
		},
	}}
	payload.Parameters.Seed = req.PromptEdit.Seed

	body, err := json.Marshal(payload)
	if err != nil {
		return JobHandle{}, err
	}
	endpoint := c.baseURL + "/services/aigc/multimodal-generation/generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return JobHandle{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return JobHandle{}, err
	}
	defer resp.Body.Close()

	var out promptEditResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return JobHandle{}, &ProviderError{Provider: promptEditProviderName, StatusCode: resp.StatusCode}
		}
		return JobHandle{}, fmt.Errorf("promptedit: decode response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return JobHandle{}, &ProviderError{
			Provider:   promptEditProviderName,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(fmt.Sprintf("%s (%s)", out.Message, out.Code)),
		}
	}

	handle := JobHandle{ID: uuid.NewString(), Provider: promptEditProviderName}
	c.store(handle.ID, terminalResult(out))
	return handle, nil
}

// terminalResult collapses the one-shot response into the polling shape.
// A response with neither image nor error maps to succeeded-with-empty
// output, which the state machine rejects as EMPTY_OUTPUT rather than
// surfacing as success.
func terminalResult(out promptEditResponse) PollResult {
	if out.Code != "" || out.Message != "" {
		return PollResult{
			State:        JobStateFailed,
			ErrorMessage: strings.TrimSpace(fmt.Sprintf("%s (%s)", out.Message, out.Code)),
		}
	}
	var locator string
	if len(out.Output.Choices) > 0 {
		for _, content := range out.Output.Choices[0].Message.Content {
			if img := strings.TrimSpace(content["image"]); img != "" {
				locator = img
				break
			}
		}
	}
	return PollResult{State: JobStateSucceeded, Output: locator}
}

// Poll returns the terminal result captured at submit time. The entry is
// kept so repeated polls stay idempotent for the job's lifetime.
func (c *PromptEditClient) Poll(ctx context.Context, handle JobHandle) (PollResult, error) {
	if err := ctx.Err(); err != nil {
		return PollResult{}, err
	}
	c.mu.Lock()
	result, ok := c.results[handle.ID]
	c.mu.Unlock()
	if !ok {
		return PollResult{}, fmt.Errorf("promptedit: unknown job %q", handle.ID)
	}
	return result, nil
}

// Cancel has nothing to cancel: the provider call completed inside Submit.
func (c *PromptEditClient) Cancel(ctx context.Context, handle JobHandle) bool {
	c.mu.Lock()
	delete(c.results, handle.ID)
	c.mu.Unlock()
	return false
}

// Forget drops the stored result for a finished job.
func (c *PromptEditClient) Forget(handle JobHandle) {
	c.mu.Lock()
	delete(c.results, handle.ID)
	c.mu.Unlock()
}

func (c *PromptEditClient) store(id string, result PollResult) {
	c.mu.Lock()
	c.results[id] = result
	c.mu.Unlock()
}

var _ Provider = (*PromptEditClient)(nil)
