package hairgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func promptBuilt(instruction string) *BuiltRequest {
	return &BuiltRequest{
		Mode:               ModePrompt,
		ConsistencyReduced: true,
		PromptEdit: &PromptEditInput{
			ImageDataURI: "data:image/png;base64,Zm9v",
			Instruction:  instruction,
		},
	}
}

func TestPromptEditSubmitThenPoll(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		var payload promptEditRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Model != "qwen-image-edit" {
			t.Fatalf("unexpected model: %s", payload.Model)
		}
		if len(payload.Input.Messages) != 1 || len(payload.Input.Messages[0].Content) != 2 {
			t.Fatalf("unexpected message shape: %+v", payload.Input.Messages)
		}
		if got := payload.Input.Messages[0].Content[1]["text"]; got != "add curtain bangs" {
			t.Fatalf("instruction mismatch: %s", got)
		}
		var resp promptEditResponse
		resp.Output.Choices = []struct {
			Message struct {
				Content []map[string]string `json:"content"`
			} `json:"message"`
		}{{}}
		resp.Output.Choices[0].Message.Content = []map[string]string{{"image": "https://example.com/out.png"}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	client := NewPromptEditClient(PromptEditOptions{BaseURL: ts.URL, APIKey: "test-key", Logger: zerolog.Nop()})
	handle, err := client.Submit(context.Background(), promptBuilt("add curtain bangs"))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if handle.Provider != "promptedit" || handle.ID == "" {
		t.Fatalf("unexpected handle: %+v", handle)
	}

	// The single response is already terminal; repeated polls stay stable.
	for i := 0; i < 2; i++ {
		result, err := client.Poll(context.Background(), handle)
		if err != nil {
			t.Fatalf("Poll error: %v", err)
		}
		if result.State != JobStateSucceeded || result.Output != "https://example.com/out.png" {
			t.Fatalf("unexpected result: %+v", result)
		}
	}
}

func TestPromptEditProviderReportedErrorBecomesFailedState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "DataInspectionFailed",
			"message": "input image rejected",
		})
	}))
	defer ts.Close()

	client := NewPromptEditClient(PromptEditOptions{BaseURL: ts.URL, APIKey: "k", Logger: zerolog.Nop()})
	handle, err := client.Submit(context.Background(), promptBuilt("x"))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	result, err := client.Poll(context.Background(), handle)
	if err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	if result.State != JobStateFailed {
		t.Fatalf("expected failed state, got %s", result.State)
	}
	if !strings.Contains(result.ErrorMessage, "input image rejected") {
		t.Fatalf("error message lost: %q", result.ErrorMessage)
	}
}

func TestPromptEditEmptyResponseSurfacesAsEmptySuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":{"choices":[]}}`))
	}))
	defer ts.Close()

	client := NewPromptEditClient(PromptEditOptions{BaseURL: ts.URL, APIKey: "k", Logger: zerolog.Nop()})
	handle, err := client.Submit(context.Background(), promptBuilt("x"))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	result, err := client.Poll(context.Background(), handle)
	if err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	// Succeeded-with-empty-output is the state machine's cue to raise
	// EMPTY_OUTPUT instead of success.
	if result.State != JobStateSucceeded || result.Output != "" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPromptEditHTTPErrorIsSubmitError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "Throttling", "message": "rate limit"})
	}))
	defer ts.Close()

	client := NewPromptEditClient(PromptEditOptions{BaseURL: ts.URL, APIKey: "k", Logger: zerolog.Nop()})
	_, err := client.Submit(context.Background(), promptBuilt("x"))
	if err == nil {
		t.Fatalf("expected submit error")
	}
	cerr := NewClassifier().Classify(err, "promptedit")
	if cerr.Code != CodeRateLimited || !cerr.Retryable {
		t.Fatalf("429 should classify retryable RATE_LIMITED, got %+v", cerr)
	}
}

func TestPromptEditMissingKey(t *testing.T) {
	client := NewPromptEditClient(PromptEditOptions{Logger: zerolog.Nop()})
	if _, err := client.Submit(context.Background(), promptBuilt("x")); err == nil {
		t.Fatalf("expected error when api key missing")
	}
}

func TestPromptEditCancelReportsUnsupported(t *testing.T) {
	client := NewPromptEditClient(PromptEditOptions{APIKey: "k", Logger: zerolog.Nop()})
	if client.Cancel(context.Background(), JobHandle{ID: "whatever"}) {
		t.Fatalf("prompt provider has nothing to cancel")
	}
}
