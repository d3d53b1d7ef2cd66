package aiop

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotReport is returned when input is not an AIOP report.
var ErrNotReport = errors.New("not a valid AIOP report")

// Parser deserializes a rendered report back into a Document.
type Parser interface {
	Parse(data []byte) (*Document, error)
}

// ParserFor picks a parser by sniffing the content: Markdown reports start
// with the version sentinel.
func ParserFor(data []byte) Parser {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(versionSentinel)) {
		return &MarkdownParser{}
	}
	return &JSONParser{}
}

// JSONParser parses a JSON report.
type JSONParser struct{}

func (p *JSONParser) Parse(data []byte) (*Document, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse JSON report: %w", err)
	}
	return doc, nil
}

// MarkdownParser parses a Markdown report by decoding its embedded payload.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(data []byte) (*Document, error) {
	content := string(data)
	if !strings.Contains(content, versionSentinel) {
		return nil, fmt.Errorf("%w: missing version sentinel", ErrNotReport)
	}
	start := strings.Index(content, dataPrefix)
	if start == -1 {
		return nil, fmt.Errorf("%w: missing data payload", ErrNotReport)
	}
	start += len(dataPrefix)
	end := strings.Index(content[start:], dataSuffix)
	if end == -1 {
		return nil, fmt.Errorf("%w: malformed data payload", ErrNotReport)
	}
	raw, err := base64.StdEncoding.DecodeString(content[start : start+end])
	if err != nil {
		return nil, fmt.Errorf("%w: corrupted payload: %v", ErrNotReport, err)
	}
	doc, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: embedded JSON: %v", ErrNotReport, err)
	}
	return doc, nil
}

func decode(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc.Type != Type {
		return nil, fmt.Errorf("%w: @type is %q", ErrNotReport, doc.Type)
	}
	return &doc, nil
}
