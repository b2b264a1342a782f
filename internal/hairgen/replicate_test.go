package hairgen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func presetBuilt() *BuiltRequest {
	return &BuiltRequest{
		Mode: ModePreset,
		Preset: &PresetInput{
			ImageDataURI:    "data:image/jpeg;base64,Zm9v",
			Style:           "bob",
			Gender:          "female",
			HairColor:       "no change",
			OutputFormat:    "png",
			AspectRatio:     "match_input_image",
			SafetyTolerance: 2,
		},
	}
}

func TestReplicateSubmitPayload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predictions" || r.Method != http.MethodPost {
			t.Fatalf("unexpected call: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		var payload replicatePredictionRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Version != "v-pinned" {
			t.Fatalf("unexpected version: %s", payload.Version)
		}
		if !strings.HasPrefix(payload.Input.Image, "data:image/jpeg;base64,") {
			t.Fatalf("image must ship as data uri: %s", payload.Input.Image)
		}
		if payload.Input.Style != "bob" || payload.Input.HairColor != "no change" || payload.Input.SafetyTolerance != 2 {
			t.Fatalf("input mismatch: %+v", payload.Input)
		}
		_ = json.NewEncoder(w).Encode(replicatePrediction{ID: "pred-1", Status: "starting"})
	}))
	defer ts.Close()

	client := NewReplicateClient(ReplicateOptions{BaseURL: ts.URL, APIToken: "test-token", Version: "v-pinned", Logger: zerolog.Nop()})
	handle, err := client.Submit(context.Background(), presetBuilt())
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if handle.ID != "pred-1" || handle.Provider != "replicate" {
		t.Fatalf("unexpected handle: %+v", handle)
	}
}

func TestReplicateSubmitMissingToken(t *testing.T) {
	client := NewReplicateClient(ReplicateOptions{Logger: zerolog.Nop()})
	_, err := client.Submit(context.Background(), presetBuilt())
	if err == nil {
		t.Fatalf("expected error when token missing")
	}
	cerr := NewClassifier().Classify(err, "replicate")
	if cerr.Code != CodeAuthUnauthorized {
		t.Fatalf("missing token should classify AUTH_UNAUTHORIZED, got %s", cerr.Code)
	}
}

func TestReplicateSubmitVersionGoneFallsBackToLatest(t *testing.T) {
	var versions []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/predictions":
			var payload replicatePredictionRequest
			_ = json.NewDecoder(r.Body).Decode(&payload)
			versions = append(versions, payload.Version)
			if payload.Version == "v-gone" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_ = json.NewEncoder(w).Encode(map[string]string{"detail": "version does not exist"})
				return
			}
			_ = json.NewEncoder(w).Encode(replicatePrediction{ID: "pred-2", Status: "starting"})
		case strings.HasPrefix(r.URL.Path, "/models/"):
			_, _ = w.Write([]byte(`{"latest_version":{"id":"v-latest"}}`))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	client := NewReplicateClient(ReplicateOptions{
		BaseURL: ts.URL, APIToken: "test-token",
		Model: "acme/haircut", Version: "v-gone",
		Logger: zerolog.Nop(),
	})
	handle, err := client.Submit(context.Background(), presetBuilt())
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if handle.ID != "pred-2" {
		t.Fatalf("unexpected handle: %+v", handle)
	}
	if len(versions) != 2 || versions[0] != "v-gone" || versions[1] != "v-latest" {
		t.Fatalf("expected one fallback resubmit, got versions %v", versions)
	}
}

func TestReplicatePollNormalizesOutputShapes(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   string
	}{
		{"single string", `"https://cdn.example.com/x.jpg"`, "https://cdn.example.com/x.jpg"},
		{"array", `["https://cdn.example.com/x.jpg"]`, "https://cdn.example.com/x.jpg"},
		{"empty array", `[]`, ""},
		{"empty string", `""`, ""},
		{"null", `null`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/predictions/pred-1" {
					t.Fatalf("unexpected path: %s", r.URL.Path)
				}
				fmt.Fprintf(w, `{"id":"pred-1","status":"succeeded","output":%s}`, tc.output)
			}))
			defer ts.Close()

			client := NewReplicateClient(ReplicateOptions{BaseURL: ts.URL, APIToken: "t", Logger: zerolog.Nop()})
			result, err := client.Poll(context.Background(), JobHandle{ID: "pred-1", Provider: "replicate"})
			if err != nil {
				t.Fatalf("Poll error: %v", err)
			}
			if result.State != JobStateSucceeded {
				t.Fatalf("unexpected state: %s", result.State)
			}
			if result.Output != tc.want {
				t.Fatalf("output = %q, want %q", result.Output, tc.want)
			}
		})
	}
}

func TestReplicatePollRejectsUnknownStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"daydreaming"}`))
	}))
	defer ts.Close()

	client := NewReplicateClient(ReplicateOptions{BaseURL: ts.URL, APIToken: "t", Logger: zerolog.Nop()})
	if _, err := client.Poll(context.Background(), JobHandle{ID: "pred-1"}); err == nil {
		t.Fatalf("unrecognized status must not reach the state machine")
	}
}

func TestReplicateCancel(t *testing.T) {
	var canceled bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/predictions/pred-1/cancel" && r.Method == http.MethodPost {
			canceled = true
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewReplicateClient(ReplicateOptions{BaseURL: ts.URL, APIToken: "t", Logger: zerolog.Nop()})
	if !client.Cancel(context.Background(), JobHandle{ID: "pred-1"}) {
		t.Fatalf("expected cancel acknowledgement")
	}
	if !canceled {
		t.Fatalf("cancel endpoint not called")
	}
	if client.Cancel(context.Background(), JobHandle{ID: "missing"}) {
		t.Fatalf("cancel of unknown job must report false")
	}
}

func TestReplicateFetchSchemaExtractsEnums(t *testing.T) {
	openapi := `{
		"components": {"schemas": {
			"Input": {"properties": {
				"style": {"allOf": [{"$ref": "#/components/schemas/style"}]},
				"hair_color": {"enum": ["no change", "blonde"], "type": "string"},
				"output_format": {"allOf": [{"$ref": "#/components/schemas/output_format"}]}
			}},
			"style": {"enum": ["bob", "pixie"], "type": "string"},
			"output_format": {"enum": ["png", "jpg"], "type": "string"}
		}}
	}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/acme/haircut" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprintf(w, `{"latest_version":{"id":"v-latest","openapi_schema":%s}}`, openapi)
	}))
	defer ts.Close()

	client := NewReplicateClient(ReplicateOptions{BaseURL: ts.URL, APIToken: "t", Model: "acme/haircut", Logger: zerolog.Nop()})
	schema, err := client.FetchSchema(context.Background())
	if err != nil {
		t.Fatalf("FetchSchema error: %v", err)
	}
	if schema.ModelVersion != "v-latest" {
		t.Fatalf("model version = %s", schema.ModelVersion)
	}
	if len(schema.Styles) != 2 || schema.Styles[0] != "bob" {
		t.Fatalf("styles via allOf ref not extracted: %v", schema.Styles)
	}
	if len(schema.Colors) != 2 || schema.Colors[1] != "blonde" {
		t.Fatalf("inline enum not extracted: %v", schema.Colors)
	}
	if len(schema.OutputFormats) != 2 {
		t.Fatalf("output formats not extracted: %v", schema.OutputFormats)
	}
}

func TestReplicateFetchSchemaWithoutEnumsLeavesFieldsEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"latest_version":{"id":"v-latest","openapi_schema":{"components":{"schemas":{"Input":{"properties":{"prompt":{"type":"string"}}}}}}}}`))
	}))
	defer ts.Close()

	client := NewReplicateClient(ReplicateOptions{BaseURL: ts.URL, APIToken: "t", Model: "acme/haircut", Logger: zerolog.Nop()})
	schema, err := client.FetchSchema(context.Background())
	if err != nil {
		t.Fatalf("FetchSchema error: %v", err)
	}
	if len(schema.Styles) != 0 || len(schema.Colors) != 0 {
		t.Fatalf("non-enumerated fields must come back empty for the cache to merge: %+v", schema)
	}
}
