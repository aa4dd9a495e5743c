package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Result is the structured claim extracted from an intake.
type Result struct {
	IssueType  string  `json:"issue_type"`
	Location   string  `json:"location"`
	Urgency    int     `json:"urgency"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Department string  `json:"department"`
}

const (
	defaultUrgency    = 5
	defaultConfidence = 0.7
)

// Fallback is the neutral claim used whenever extraction is unavailable.
func Fallback() Result {
	return Result{
		IssueType:  "unknown",
		Location:   "unknown",
		Urgency:    defaultUrgency,
		Sentiment:  "neutral",
		Confidence: 0,
		Department: "general",
	}
}

// rawResult mirrors the loosely shaped JSON a model returns.
type rawResult struct {
	IssueType  *string          `json:"issue_type"`
	Location   *string          `json:"location"`
	Urgency    *json.RawMessage `json:"urgency"`
	Sentiment  *string          `json:"sentiment"`
	Confidence *json.RawMessage `json:"confidence"`
	Department *string          `json:"department"`
}

func parseResult(text string) (Result, error) {
	data := cleanJSON([]byte(text))
	if len(data) == 0 {
		return Result{}, errors.New("empty response")
	}
	var raw rawResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, fmt.Errorf("parse response: %w", err)
	}
	if raw.IssueType == nil || strings.TrimSpace(*raw.IssueType) == "" {
		return Result{}, errors.New("response has no issue_type")
	}

	res := Result{
		IssueType:  strings.TrimSpace(*raw.IssueType),
		Location:   orUnknown(raw.Location),
		Sentiment:  orDefault(raw.Sentiment, "neutral"),
		Department: orDefault(raw.Department, "general"),
		Urgency:    defaultUrgency,
		Confidence: defaultConfidence,
	}
	if raw.Urgency != nil {
		n, err := number(*raw.Urgency)
		if err != nil {
			return Result{}, fmt.Errorf("urgency: %w", err)
		}
		res.Urgency = int(math.Round(math.Max(1, math.Min(10, n))))
	}
	if raw.Confidence != nil {
		n, err := number(*raw.Confidence)
		if err != nil {
			return Result{}, fmt.Errorf("confidence: %w", err)
		}
		res.Confidence = math.Max(0, math.Min(1, n))
	}
	return res, nil
}

// cleanJSON strips markdown code fences that models like to wrap JSON in.
func cleanJSON(data []byte) []byte {
	s := bytes.TrimSpace(data)
	if bytes.HasPrefix(s, []byte("```")) {
		if idx := bytes.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		} else {
			s = s[3:]
		}
		s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
		s = bytes.TrimSpace(s)
	}
	return s
}

// number accepts a JSON number or a string holding one.
func number(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return f, nil
}

func orUnknown(s *string) string { return orDefault(s, "unknown") }

func orDefault(s *string, def string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return def
	}
	return strings.TrimSpace(*s)
}
