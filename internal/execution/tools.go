package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// Tool identifiers, also used as workflow ids in the run log.
const (
	ToolKeywordSuggestion  = "keyword-suggestion"
	ToolBlogGeneration     = "blog-generation"
	ToolAudioTranscription = "audio-transcription"
	ToolLinkedInPost       = "linkedin-post"
)

// Endpoints are the webhook URLs per tool. An empty URL disables the tool.
type Endpoints struct {
	Keyword       string
	Blog          string
	Transcription string
	LinkedIn      string
}

// Result is a normalized tool response.
type Result struct {
	Tool        string `json:"tool"`
	Shape       Shape  `json:"shape,omitempty"`
	Output      any    `json:"output"`
	Degraded    bool   `json:"degraded,omitempty"`
	RawResponse string `json:"-"`
}

type briefer interface {
	brief() string
}

// Summary is a short human-readable description of the output.
func (r *Result) Summary() string {
	if b, ok := r.Output.(briefer); ok {
		return b.brief()
	}
	return ""
}

type KeywordInput struct {
	Topic string `json:"topic"`
}

type Keyword struct {
	Keyword   string  `json:"keyword"`
	Relevance float64 `json:"relevance"`
}

type KeywordOutput struct {
	Keywords []Keyword `json:"keywords"`
}

func (o *KeywordOutput) brief() string {
	if len(o.Keywords) == 0 {
		return "No keywords"
	}
	names := make([]string, 0, len(o.Keywords))
	for _, k := range o.Keywords {
		names = append(names, k.Keyword)
	}
	return truncate(fmt.Sprintf("%d keywords: %s", len(o.Keywords), strings.Join(names, ", ")), 160)
}

type BlogInput struct {
	Topic    string   `json:"topic"`
	Keywords []string `json:"keywords,omitempty"`
	Tone     string   `json:"tone,omitempty"`
}

type BlogOutput struct {
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	MetaDescription string   `json:"metaDescription,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

func (o *BlogOutput) brief() string { return truncate(o.Title, 160) }

// TranscriptionInput carries an uploaded audio file. File is streamed to the
// webhook and is not part of the run log.
type TranscriptionInput struct {
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Language    string    `json:"language,omitempty"`
	File        io.Reader `json:"-"`
}

type TranscriptionOutput struct {
	Transcript      string  `json:"transcript"`
	Summary         string  `json:"summary,omitempty"`
	Language        string  `json:"language,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

func (o *TranscriptionOutput) brief() string {
	if o.Summary != "" {
		return truncate(o.Summary, 160)
	}
	return truncate(o.Transcript, 160)
}

type LinkedInInput struct {
	Topic    string `json:"topic"`
	Tone     string `json:"tone,omitempty"`
	Audience string `json:"audience,omitempty"`
}

type LinkedInOutput struct {
	PostText string   `json:"postText"`
	Hashtags []string `json:"hashtags,omitempty"`
}

func (o *LinkedInOutput) brief() string { return truncate(o.PostText, 160) }

func hasAny(fields ...string) func(gjson.Result) bool {
	return func(obj gjson.Result) bool {
		for _, f := range fields {
			if obj.Get(f).Exists() {
				return true
			}
		}
		return false
	}
}

// hasTyped matches an object that carries at least one of the string fields
// and where every one present is a JSON string. A missing required field is
// left to output validation.
func hasTyped(fields ...string) func(gjson.Result) bool {
	return func(obj gjson.Result) bool {
		found := false
		for _, f := range fields {
			v := obj.Get(f)
			if !v.Exists() {
				continue
			}
			if v.Type != gjson.String {
				return false
			}
			found = true
		}
		return found
	}
}

var (
	// Keyword output is matched on presence only so a bad list degrades.
	keywordExpectation       = Expectation{Match: hasAny("keywords")}
	blogExpectation          = Expectation{Match: hasTyped("title", "content")}
	transcriptionExpectation = Expectation{Match: hasTyped("transcript")}
	linkedInExpectation      = Expectation{Match: hasTyped("postText"), TextField: "postText"}
)

// Adapter invokes the tool webhooks and normalizes their responses. It never
// touches the ledger or the run log.
type Adapter struct {
	caller    *Caller
	validator *Validator
	endpoints Endpoints
	logger    *slog.Logger
}

func NewAdapter(caller *Caller, validator *Validator, endpoints Endpoints, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		caller:    caller,
		validator: validator,
		endpoints: endpoints,
		logger:    logger.With("component", "tool-adapter"),
	}
}

// ValidateInput checks a tool input before any credits are at stake.
func (a *Adapter) ValidateInput(tool string, input any) error {
	return a.validator.ValidateInput(tool, input)
}

// SuggestKeywords degrades to an empty list when the output fails validation.
func (a *Adapter) SuggestKeywords(ctx context.Context, in KeywordInput) (*Result, error) {
	if a.endpoints.Keyword == "" {
		return nil, &ConfigurationError{Tool: ToolKeywordSuggestion}
	}
	body, err := a.caller.Do(ctx, ToolKeywordSuggestion, Request{
		Method: http.MethodGet,
		URL:    a.endpoints.Keyword,
		Query:  url.Values{"topic": {in.Topic}},
	})
	if err != nil {
		return nil, err
	}
	d, err := Decode(body, keywordExpectation)
	if err != nil {
		return nil, err
	}

	res := &Result{Tool: ToolKeywordSuggestion, Shape: d.Shape, RawResponse: body}
	out, err := extract[KeywordOutput](a.validator, ToolKeywordSuggestion, d)
	if err != nil {
		var verr *OutputValidationError
		if !errors.As(err, &verr) {
			return nil, err
		}
		a.logger.Warn("keyword output failed validation, returning empty list", "error", err)
		out = &KeywordOutput{}
		res.Degraded = true
	}
	if out.Keywords == nil {
		out.Keywords = []Keyword{}
	}
	for i := range out.Keywords {
		out.Keywords[i].Relevance = clamp01(out.Keywords[i].Relevance)
	}
	res.Output = out
	return res, nil
}

func (a *Adapter) GenerateBlog(ctx context.Context, in BlogInput) (*Result, error) {
	if a.endpoints.Blog == "" {
		return nil, &ConfigurationError{Tool: ToolBlogGeneration}
	}
	return invokeJSON[BlogOutput](ctx, a, ToolBlogGeneration, a.endpoints.Blog, in, blogExpectation)
}

func (a *Adapter) GenerateLinkedInPost(ctx context.Context, in LinkedInInput) (*Result, error) {
	if a.endpoints.LinkedIn == "" {
		return nil, &ConfigurationError{Tool: ToolLinkedInPost}
	}
	return invokeJSON[LinkedInOutput](ctx, a, ToolLinkedInPost, a.endpoints.LinkedIn, in, linkedInExpectation)
}

// Transcribe uploads the file as multipart/form-data field "file".
func (a *Adapter) Transcribe(ctx context.Context, in TranscriptionInput) (*Result, error) {
	if a.endpoints.Transcription == "" {
		return nil, &ConfigurationError{Tool: ToolAudioTranscription}
	}
	if in.File == nil {
		return nil, fmt.Errorf("%w: missing audio file", ErrValidation)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(in.FileName)))
	h.Set("Content-Type", in.ContentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, in.File); err != nil {
		return nil, fmt.Errorf("buffer upload: %w", err)
	}
	if in.Language != "" {
		if err := mw.WriteField("language", in.Language); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	body, err := a.caller.Do(ctx, ToolAudioTranscription, Request{
		Method:      http.MethodPost,
		URL:         a.endpoints.Transcription,
		Body:        &buf,
		ContentType: mw.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}
	return finish[TranscriptionOutput](a, ToolAudioTranscription, body, transcriptionExpectation)
}

func invokeJSON[T any](ctx context.Context, a *Adapter, tool, endpoint string, in any, exp Expectation) (*Result, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	body, err := a.caller.Do(ctx, tool, Request{
		Method:      http.MethodPost,
		URL:         endpoint,
		Body:        bytes.NewReader(payload),
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	return finish[T](a, tool, body, exp)
}

// finish decodes and strictly validates a response body.
func finish[T any](a *Adapter, tool, body string, exp Expectation) (*Result, error) {
	d, err := Decode(body, exp)
	if err != nil {
		return nil, err
	}
	out, err := extract[T](a.validator, tool, d)
	if err != nil {
		return nil, err
	}
	return &Result{Tool: tool, Shape: d.Shape, Output: out, RawResponse: body}, nil
}

func extract[T any](v *Validator, tool string, d Decoded) (*T, error) {
	raw := json.RawMessage(d.Value.Raw)
	if err := v.ValidateOutput(tool, raw); err != nil {
		return nil, &OutputValidationError{Tool: tool, Err: err}
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &OutputValidationError{Tool: tool, Err: fmt.Errorf("%w: %v", ErrValidation, err)}
	}
	return &out, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
