// Package report shapes a dispatched batch into the caller-facing response.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// TokenDisplay controls how device tokens are echoed back to callers and logs.
type TokenDisplay string

const (
	// DisplayTruncated shows the first TruncatedLength characters followed by "...".
	DisplayTruncated TokenDisplay = "truncated"
	// DisplayFull echoes the token unchanged.
	DisplayFull TokenDisplay = "full"
)

// TruncatedLength is the number of token characters kept by DisplayTruncated.
const TruncatedLength = 20

// ParseTokenDisplay maps a config value onto a TokenDisplay. Empty means truncated.
func ParseTokenDisplay(s string) (TokenDisplay, error) {
	switch TokenDisplay(strings.ToLower(strings.TrimSpace(s))) {
	case "", DisplayTruncated:
		return DisplayTruncated, nil
	case DisplayFull:
		return DisplayFull, nil
	default:
		return "", fmt.Errorf("unknown token display %q", s)
	}
}

// Display renders token under policy p.
func (p TokenDisplay) Display(token string) string {
	if p == DisplayFull {
		return token
	}
	runes := []rune(token)
	if len(runes) > TruncatedLength {
		runes = runes[:TruncatedLength]
	}
	return string(runes) + "..."
}

// Result is one entry of Response.Results.
type Result struct {
	Token    string          `json:"token"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Response is the body returned for a dispatched batch.
type Response struct {
	Success bool     `json:"success"`
	Sent    int      `json:"sent"`
	Total   int      `json:"total"`
	Results []Result `json:"results"`
}

// Reporter converts BatchResults into Responses.
type Reporter struct {
	display TokenDisplay
}

func NewReporter(display TokenDisplay) *Reporter {
	if display == "" {
		display = DisplayTruncated
	}
	return &Reporter{display: display}
}

// Display exposes the policy so log lines can redact tokens the same way.
func (r *Reporter) Display(token string) string {
	return r.display.Display(token)
}

// Shape is pure: the same BatchResult always yields the same Response.
func (r *Reporter) Shape(result *relay.BatchResult) Response {
	resp := Response{
		Success: result.Success,
		Sent:    result.Sent,
		Total:   result.Total,
		Results: make([]Result, len(result.Outcomes)),
	}
	for i, o := range result.Outcomes {
		resp.Results[i] = Result{
			Token:    r.display.Display(o.Token),
			Success:  o.Success,
			Error:    o.Error,
			Response: o.Response,
		}
	}
	return resp
}
