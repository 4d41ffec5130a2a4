package execution

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Shape names one accepted webhook response layout.
type Shape string

const (
	ShapeDirect         Shape = "direct"
	ShapeArrayWrapped   Shape = "array_wrapped"
	ShapeDataOutput     Shape = "data_output"
	ShapeChatCompletion Shape = "chat_completion"
	ShapeEncodedString  Shape = "encoded_string"
)

// maxEncodedDepth bounds how many layers of JSON-in-a-string are unwrapped.
const maxEncodedDepth = 2

// Expectation describes the object a tool needs out of a response.
type Expectation struct {
	// Match reports whether an object carries the tool's output fields with
	// the expected JSON types. A candidate that fails it lets later shapes try.
	Match func(obj gjson.Result) bool
	// TextField, when set, lets a plain-text chat completion stand in for
	// the object {TextField: text}.
	TextField string
}

// Decoded is the object extracted from a response and the shape it came from.
type Decoded struct {
	Shape Shape
	Value gjson.Result
}

type variant struct {
	shape     Shape
	allowText bool
	extract   func(v gjson.Result) gjson.Result
}

// variants are tried in order; the first whose candidate matches wins.
var variants = []variant{
	{shape: ShapeDirect, extract: func(v gjson.Result) gjson.Result {
		if v.IsObject() {
			return v
		}
		return gjson.Result{}
	}},
	{shape: ShapeArrayWrapped, extract: func(v gjson.Result) gjson.Result {
		if v.IsArray() {
			return v.Get("0")
		}
		return gjson.Result{}
	}},
	{shape: ShapeDataOutput, extract: func(v gjson.Result) gjson.Result {
		return firstOf(v, "data.0.output", "0.data.0.output")
	}},
	{shape: ShapeChatCompletion, allowText: true, extract: func(v gjson.Result) gjson.Result {
		return firstOf(v, "choices.0.message.content", "0.choices.0.message.content")
	}},
	{shape: ShapeEncodedString, extract: func(v gjson.Result) gjson.Result {
		if v.Type == gjson.String {
			return v
		}
		return gjson.Result{}
	}},
}

// Decode parses body and extracts the first accepted shape that matches exp.
func Decode(body string, exp Expectation) (Decoded, error) {
	if !gjson.Valid(body) {
		return Decoded{}, &MalformedResponseError{Body: body}
	}
	root := gjson.Parse(body)
	if d, ok := probe(root, exp, 0); ok {
		return d, nil
	}
	return Decoded{}, &UnrecognizedShapeError{Preview: preview(root.Raw)}
}

func probe(v gjson.Result, exp Expectation, depth int) (Decoded, bool) {
	for _, vr := range variants {
		c := vr.extract(v)
		if !c.Exists() {
			continue
		}
		if got, ok := accept(c, exp, vr.allowText, depth); ok {
			return Decoded{Shape: vr.shape, Value: got}, true
		}
	}
	return Decoded{}, false
}

func accept(c gjson.Result, exp Expectation, allowText bool, depth int) (gjson.Result, bool) {
	if c.IsObject() {
		if exp.Match(c) {
			return c, true
		}
		return gjson.Result{}, false
	}
	if c.Type != gjson.String {
		return gjson.Result{}, false
	}
	s := stripFences(strings.TrimSpace(c.Str))
	if s == "" {
		return gjson.Result{}, false
	}
	if gjson.Valid(s) {
		inner := gjson.Parse(s)
		if depth < maxEncodedDepth && (inner.IsObject() || inner.IsArray() || inner.Type == gjson.String) {
			if d, ok := probe(inner, exp, depth+1); ok {
				return d.Value, true
			}
		}
		// Structured JSON that did not match is not prose.
		if inner.IsObject() || inner.IsArray() {
			return gjson.Result{}, false
		}
	}
	if allowText && exp.TextField != "" {
		raw, err := sjson.Set(`{}`, exp.TextField, s)
		if err != nil {
			return gjson.Result{}, false
		}
		return gjson.Parse(raw), true
	}
	return gjson.Result{}, false
}

// stripFences removes a surrounding markdown code fence such as ```json ... ```.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(s[3:], "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[\"") {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

func firstOf(v gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := v.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

const previewLen = 200

func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
