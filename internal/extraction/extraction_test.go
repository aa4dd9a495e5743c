package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeGenerator struct {
	out       string
	err       error
	translate string
	terr      error

	prompt string
	media  *Media
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, media *Media) (string, error) {
	f.prompt = prompt
	f.media = media
	return f.out, f.err
}

func (f *fakeGenerator) Translate(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.translate, f.terr
}

func TestExtractWithoutBackendFallsBack(t *testing.T) {
	svc := NewService(nil)
	got, ok := svc.Extract(context.Background(), Payload{Kind: KindDocument, Content: "Streetlight broken near 5th Ave", Language: "en"})
	if ok {
		t.Fatalf("expected fallback")
	}
	if diff := cmp.Diff(Fallback(), got); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}
	if got.IssueType != "unknown" || got.Urgency != 5 || got.Sentiment != "neutral" {
		t.Fatalf("unexpected fallback %+v", got)
	}
}

func TestExtractNeverFails(t *testing.T) {
	cases := []struct {
		name    string
		gen     *fakeGenerator
		payload Payload
	}{
		{"network error", &fakeGenerator{err: errors.New("dial tcp: connection refused")}, Payload{Kind: KindDocument, Content: "x"}},
		{"timeout", &fakeGenerator{err: context.DeadlineExceeded}, Payload{Kind: KindDocument, Content: "x"}},
		{"malformed json", &fakeGenerator{out: "the issue is a pothole"}, Payload{Kind: KindDocument, Content: "x"}},
		{"truncated json", &fakeGenerator{out: `{"issue_type": "pothole"`}, Payload{Kind: KindDocument, Content: "x"}},
		{"array", &fakeGenerator{out: `["pothole"]`}, Payload{Kind: KindDocument, Content: "x"}},
		{"missing issue", &fakeGenerator{out: `{"location": "Main St"}`}, Payload{Kind: KindDocument, Content: "x"}},
		{"bad urgency", &fakeGenerator{out: `{"issue_type": "pothole", "urgency": "very"}`}, Payload{Kind: KindDocument, Content: "x"}},
		{"empty", &fakeGenerator{out: "  "}, Payload{Kind: KindDocument, Content: "x"}},
		{"bad base64", &fakeGenerator{out: `{"issue_type": "pothole"}`}, Payload{Kind: KindImage, Content: "data:image/png;base64,!!!"}},
		{"unsupported media", &fakeGenerator{err: ErrUnsupportedMedia}, Payload{Kind: KindVoice, Content: base64.StdEncoding.EncodeToString([]byte("ogg"))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NewService(tc.gen).Extract(context.Background(), tc.payload)
			if ok {
				t.Fatalf("expected fallback, got %+v", got)
			}
			if diff := cmp.Diff(Fallback(), got); diff != "" {
				t.Fatalf("result (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractDocument(t *testing.T) {
	gen := &fakeGenerator{out: "```json\n{\"issue_type\":\"broken streetlight\",\"location\":\"5th Ave\",\"urgency\":\"12\",\"sentiment\":\"frustrated\",\"confidence\":0.92,\"department\":\"Public Works\"}\n```"}
	got, ok := NewService(gen).Extract(context.Background(), Payload{Kind: KindDocument, Content: "Streetlight broken near 5th Ave", Language: "en"})
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}
	want := Result{
		IssueType:  "broken streetlight",
		Location:   "5th Ave",
		Urgency:    10,
		Sentiment:  "frustrated",
		Confidence: 0.92,
		Department: "Public Works",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}
	if gen.media != nil {
		t.Fatalf("document intake must not send media")
	}
	if !strings.Contains(gen.prompt, "Streetlight broken near 5th Ave") {
		t.Fatalf("prompt missing resident text: %s", gen.prompt)
	}
}

func TestExtractDefaultsMissingFields(t *testing.T) {
	gen := &fakeGenerator{out: `{"issue_type":"graffiti"}`}
	got, ok := NewService(gen).Extract(context.Background(), Payload{Kind: KindDocument, Content: "graffiti"})
	if !ok {
		t.Fatalf("expected success")
	}
	want := Result{IssueType: "graffiti", Location: "unknown", Urgency: 5, Sentiment: "neutral", Confidence: 0.7, Department: "general"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}
}

func TestParseResultClampsUrgency(t *testing.T) {
	tests := []struct {
		urgency string
		want    int
	}{
		{`7`, 7},
		{`6.6`, 7},
		{`0`, 1},
		{`-3`, 1},
		{`12`, 10},
		{`1e20`, 10},
		{`-1e20`, 1},
		{`"1e300"`, 10},
	}
	for _, tt := range tests {
		got, err := parseResult(`{"issue_type":"pothole","urgency":` + tt.urgency + `}`)
		if err != nil {
			t.Fatalf("urgency %s: %v", tt.urgency, err)
		}
		if got.Urgency != tt.want {
			t.Errorf("urgency %s = %d, want %d", tt.urgency, got.Urgency, tt.want)
		}
	}
}

func TestExtractImageSplitsDataURI(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	content := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	gen := &fakeGenerator{out: `{"issue_type":"pothole","urgency":7}`}
	got, ok := NewService(gen).Extract(context.Background(), Payload{Kind: KindImage, Content: content})
	if !ok {
		t.Fatalf("expected success")
	}
	if got.Urgency != 7 {
		t.Fatalf("urgency = %d", got.Urgency)
	}
	if gen.media == nil {
		t.Fatalf("expected media part")
	}
	if gen.media.MimeType != "image/png" {
		t.Fatalf("mime = %q", gen.media.MimeType)
	}
	if diff := cmp.Diff(raw, gen.media.Data); diff != "" {
		t.Fatalf("media bytes (-want +got):\n%s", diff)
	}
	if strings.Contains(gen.prompt, "base64") {
		t.Fatalf("media must not be inlined into the prompt")
	}
}

func TestExtractVoiceDefaultMime(t *testing.T) {
	gen := &fakeGenerator{out: `{"issue_type":"noise"}`}
	content := base64.StdEncoding.EncodeToString([]byte("webm-bytes"))
	if _, ok := NewService(gen).Extract(context.Background(), Payload{Kind: KindVoice, Content: content}); !ok {
		t.Fatalf("expected success")
	}
	if gen.media.MimeType != "audio/webm" {
		t.Fatalf("mime = %q, want audio/webm", gen.media.MimeType)
	}
}

func TestTranslate(t *testing.T) {
	text := "Your request has been sent to Public Works. Reference: job-1"

	got, err := NewService(nil).Translate(context.Background(), text, "es")
	if err != nil || got != text {
		t.Fatalf("unconfigured translate = %q, %v; want input unchanged", got, err)
	}

	gen := &fakeGenerator{translate: "Su solicitud fue enviada."}
	got, err = NewService(gen).Translate(context.Background(), text, "es")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got != "Su solicitud fue enviada." {
		t.Fatalf("got %q, want backend output verbatim", got)
	}
	if !strings.Contains(gen.prompt, "5th-grade") || !strings.Contains(gen.prompt, "es") {
		t.Fatalf("prompt = %q", gen.prompt)
	}

	boom := errors.New("quota exceeded")
	_, err = NewService(&fakeGenerator{terr: boom}).Translate(context.Background(), text, "es")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want propagated backend error", err)
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"voice", "image", "document", " Document "} {
		if _, err := ParseKind(s); err != nil {
			t.Fatalf("ParseKind(%q): %v", s, err)
		}
	}
	for _, s := range []string{"", "video", "file"} {
		if _, err := ParseKind(s); err == nil {
			t.Fatalf("ParseKind(%q) should fail", s)
		}
	}
}

func TestCleanJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                  `{"a":1}`,
		"```json\n{\"a\":1}\n```":  `{"a":1}`,
		"```\n{\"a\":1}\n```":      `{"a":1}`,
		"  \n {\"a\":1} \n ":       `{"a":1}`,
		"":                         "",
	}
	for in, want := range cases {
		if got := string(cleanJSON([]byte(in))); got != want {
			t.Fatalf("cleanJSON(%q) = %q, want %q", in, got, want)
		}
	}
}
