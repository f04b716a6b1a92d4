package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/teranos/compliq/errors"
)

// Content types carried by response envelopes
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text"
)

// ErrEmptyResponse is returned when a response stream carries no usable envelope
var ErrEmptyResponse = errors.New("agent returned no usable response")

// Response is one decoded agent answer. The variants are StructuredQA,
// FreeText and StructuredJSON; switch on the concrete type.
type Response interface {
	isResponse()
}

// QAPair is one answered question
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// StructuredQA is a JSON list of question/answer objects
type StructuredQA struct {
	Pairs []QAPair
}

// FreeText is a plain text body
type FreeText struct {
	Text string
}

// StructuredJSON is any other JSON object body, decoded by the caller
type StructuredJSON struct {
	Raw json.RawMessage
}

func (StructuredQA) isResponse()   {}
func (FreeText) isResponse()       {}
func (StructuredJSON) isResponse() {}

// Decode unmarshals the JSON object into v
func (s StructuredJSON) Decode(v any) error {
	if err := json.Unmarshal(s.Raw, v); err != nil {
		return errors.Wrap(err, "failed to decode structured agent response")
	}
	return nil
}

type envelope struct {
	Output *output `json:"output"`
}

type output struct {
	Status      int    `json:"status"`
	ContentType string `json:"content-type"`
	Body        struct {
		Content json.RawMessage `json:"content"`
	} `json:"body"`
}

// maxReasonLen bounds how much of a failed envelope body lands in error messages
const maxReasonLen = 512

// Decode reads a streamed response. The stream is a sequence of JSON lines, each an
// {"output": {...}} envelope; the first envelope with a known content type wins.
// A non-200 envelope status yields a *RetryableError.
func Decode(contentType string, body io.Reader) (Response, error) {
	if !strings.Contains(contentType, ContentTypeJSON) {
		return nil, errors.Wrapf(ErrEmptyResponse, "unsupported response content type %q", contentType)
	}

	reader := bufio.NewReader(body)
	for {
		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			resp, err := decodeLine(line)
			if err != nil {
				return nil, err
			}
			if resp != nil {
				return resp, nil
			}
		}

		if readErr == io.EOF {
			return nil, ErrEmptyResponse
		}
		if readErr != nil {
			return nil, NewRetryableError("response stream interrupted", readErr)
		}
	}
}

// decodeLine returns nil, nil for envelopes with an unknown content type
func decodeLine(line []byte) (Response, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, errors.WithDetail(errors.Wrap(err, "malformed response envelope"), truncate(string(line)))
	}
	if env.Output == nil {
		return nil, errors.WithDetail(errors.New("response envelope has no output"), truncate(string(line)))
	}

	out := env.Output
	if out.Status != 200 {
		return nil, &RetryableError{
			Reason: "agent server error: " + truncate(contentString(out.Body.Content)),
			Status: out.Status,
		}
	}

	switch out.ContentType {
	case ContentTypeJSON:
		return decodeJSONContent(out.Body.Content)
	case ContentTypeText:
		return FreeText{Text: contentString(out.Body.Content)}, nil
	default:
		return nil, nil
	}
}

func decodeJSONContent(raw json.RawMessage) (Response, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrEmptyResponse
	}

	switch trimmed[0] {
	case '[':
		var pairs []QAPair
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return nil, errors.Wrap(err, "malformed question/answer list")
		}
		return StructuredQA{Pairs: pairs}, nil
	case '{':
		return StructuredJSON{Raw: json.RawMessage(trimmed)}, nil
	case '"':
		// Some agents double-encode their JSON body
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, errors.Wrap(err, "malformed JSON string content")
		}
		inner = strings.TrimSpace(inner)
		if strings.HasPrefix(inner, "[") || strings.HasPrefix(inner, "{") {
			return decodeJSONContent(json.RawMessage(inner))
		}
		return nil, errors.Newf("JSON content is not an object or list: %s", truncate(inner))
	default:
		return nil, errors.Newf("JSON content is not an object or list: %s", truncate(string(trimmed)))
	}
}

// contentString renders content as text, unquoting JSON strings
func contentString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(s string) string {
	if len(s) <= maxReasonLen {
		return s
	}
	return s[:maxReasonLen] + "..."
}
