package execution

import (
	"encoding/json"
	"errors"
	"testing"
	"testing/fstest"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestNewValidator_LoadsEveryTool(t *testing.T) {
	v := newTestValidator(t)

	tools := []string{ToolKeywordSuggestion, ToolBlogGeneration, ToolAudioTranscription, ToolLinkedInPost}
	if got := len(v.inputSchemas); got != len(tools) {
		t.Fatalf("expected %d input schemas, got %d", len(tools), got)
	}
	for _, tool := range tools {
		if _, ok := v.inputSchemas[tool]; !ok {
			t.Errorf("missing input schema for %q", tool)
		}
		if _, ok := v.outputSchemas[tool]; !ok {
			t.Errorf("missing output schema for %q", tool)
		}
	}
}

func TestValidateInput_Blog_Valid(t *testing.T) {
	v := newTestValidator(t)

	in := BlogInput{Topic: "Home automation", Keywords: []string{"iot"}, Tone: "friendly"}
	if err := v.ValidateInput(ToolBlogGeneration, in); err != nil {
		t.Fatalf("expected valid blog input, got: %v", err)
	}
}

func TestValidateInput_Invalid(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		name  string
		tool  string
		input any
	}{
		{name: "keyword topic too short (minLength 2)", tool: ToolKeywordSuggestion, input: KeywordInput{Topic: "a"}},
		{name: "blog missing topic", tool: ToolBlogGeneration, input: json.RawMessage(`{"tone":"dry"}`)},
		{name: "linkedin unknown field (additionalProperties: false)", tool: ToolLinkedInPost, input: json.RawMessage(`{"topic":"valid topic","extra":"boom"}`)},
		{name: "transcription non-audio content type", tool: ToolAudioTranscription, input: TranscriptionInput{FileName: "a.txt", ContentType: "text/plain", Size: 10}},
		{name: "transcription empty file", tool: ToolAudioTranscription, input: TranscriptionInput{FileName: "a.mp3", ContentType: "audio/mpeg"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateInput(tc.tool, tc.input)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got: %v", err)
			}
		})
	}
}

func TestValidateOutput_Transcription(t *testing.T) {
	v := newTestValidator(t)

	if err := v.ValidateOutput(ToolAudioTranscription, json.RawMessage(`{"transcript":"hi","durationSeconds":3.5}`)); err != nil {
		t.Fatalf("expected valid output, got: %v", err)
	}
	if err := v.ValidateOutput(ToolAudioTranscription, json.RawMessage(`{"transcript":""}`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty transcript, got: %v", err)
	}
}

func TestValidate_UnknownTool(t *testing.T) {
	v := newTestValidator(t)

	err := v.ValidateInput("image-generation", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("unknown tool must not be reported as a validation failure")
	}
}

func TestNewValidator_MissingOutputSchema(t *testing.T) {
	fsys := fstest.MapFS{
		"schemas/broken.json": &fstest.MapFile{Data: []byte(`{"input_schema":{"type":"object"}}`)},
	}
	if _, err := newValidator(fsys, "schemas"); err == nil {
		t.Fatal("expected error for a schema file without output_schema")
	}
}
