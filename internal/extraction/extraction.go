// Package extraction turns a resident's intake into a structured claim and
// localizes outgoing messages.
package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
)

// Kind is the declared input kind of an intake.
type Kind string

const (
	KindVoice    Kind = "voice"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

// ParseKind validates a raw kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindVoice, KindImage, KindDocument:
		return k, nil
	default:
		return "", fmt.Errorf("invalid intake type %q", s)
	}
}

// Payload is one resident submission. Content is plain text for documents
// and base64 (optionally a data URI) for voice and image.
type Payload struct {
	Kind     Kind
	Content  string
	Language string
}

// Media is binary content sent alongside the extraction prompt.
type Media struct {
	MimeType string
	Data     []byte
}

var ErrUnsupportedMedia = errors.New("media type not supported by backend")

// Generator is the text generation backend.
type Generator interface {
	Generate(ctx context.Context, prompt string, media *Media) (string, error)
	Translate(ctx context.Context, prompt string) (string, error)
}

// Service wraps a Generator. A nil generator means no AI backend is
// configured.
type Service struct {
	gen Generator
}

func NewService(gen Generator) *Service {
	return &Service{gen: gen}
}

// Configured reports whether an AI backend is available.
func (s *Service) Configured() bool { return s.gen != nil }

// Extract returns a structured claim for p. It never fails: any backend
// problem yields Fallback(). The second return value is false when the
// fallback was used.
func (s *Service) Extract(ctx context.Context, p Payload) (Result, bool) {
	if s.gen == nil {
		return Fallback(), false
	}
	res, err := s.extract(ctx, p)
	if err != nil {
		log.Printf("Warning: extraction failed for %s intake, using fallback: %v", p.Kind, err)
		return Fallback(), false
	}
	return res, true
}

func (s *Service) extract(ctx context.Context, p Payload) (Result, error) {
	prompt := buildPrompt(p)

	var media *Media
	text := p.Content
	switch p.Kind {
	case KindVoice, KindImage:
		m, err := decodeMedia(p)
		if err != nil {
			return Result{}, err
		}
		media = m
	case KindDocument:
		prompt += "\nResident text:\n" + text
	default:
		return Result{}, fmt.Errorf("invalid intake type %q", p.Kind)
	}

	out, err := s.gen.Generate(ctx, prompt, media)
	if err != nil {
		return Result{}, fmt.Errorf("generate: %w", err)
	}
	return parseResult(out)
}

// Translate rewrites text in targetLanguage at a low reading level. Without a
// backend the text is returned unchanged; backend errors are returned.
func (s *Service) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if s.gen == nil {
		return text, nil
	}
	prompt := fmt.Sprintf("Translate to %s for a 5th-grade reading level: %s", targetLanguage, text)
	out, err := s.gen.Translate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return out, nil
}

func buildPrompt(p Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this %s from a city resident.\n", p.Kind)
	if p.Language != "" {
		fmt.Fprintf(&b, "The resident's language is %q.\n", p.Language)
	}
	b.WriteString("Extract: 1) Issue type 2) Location 3) Urgency (1-10) 4) Sentiment 5) Required department 6) Your confidence (0-1)\n")
	b.WriteString(`Return STRICT JSON ONLY with keys: issue_type, location, urgency, sentiment, confidence, department.`)
	b.WriteString("\n")
	return b.String()
}

// decodeMedia splits an optional data URI prefix from the content and
// decodes the base64 payload.
func decodeMedia(p Payload) (*Media, error) {
	mime := "image/jpeg"
	if p.Kind == KindVoice {
		mime = "audio/webm"
	}
	data := p.Content
	if head, rest, ok := strings.Cut(data, "base64,"); ok {
		data = rest
		if m, ok := strings.CutPrefix(head, "data:"); ok {
			if m = strings.TrimSuffix(m, ";"); m != "" {
				mime = m
			}
		}
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s content: %w", p.Kind, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty %s content", p.Kind)
	}
	return &Media{MimeType: mime, Data: raw}, nil
}
