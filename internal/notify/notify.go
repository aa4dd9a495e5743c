// Package notify builds resident-facing status messages in the resident's
// language.
package notify

import (
	"context"
	"fmt"
)

// Translator localizes English text.
type Translator interface {
	Translate(ctx context.Context, text, lang string) (string, error)
}

// Composer renders status templates and translates them.
type Composer struct {
	translator Translator
}

// NewComposer creates a composer. A nil translator returns English text.
func NewComposer(t Translator) *Composer {
	return &Composer{translator: t}
}

// Compose tells the resident which department received the request.
// Translation errors are returned to the caller.
func (c *Composer) Compose(ctx context.Context, department, jobID, lang string) (string, error) {
	return c.localize(ctx, fmt.Sprintf("Your request has been sent to %s. Reference: %s", department, jobID), lang)
}

// ComposeUpdate acknowledges a submitted issue with the standard response
// window.
func (c *Composer) ComposeUpdate(ctx context.Context, issue, reference, lang string) (string, error) {
	msg := fmt.Sprintf("Your request about %q has been submitted. Reference: %s. You will receive updates within 72 hours.", issue, reference)
	return c.localize(ctx, msg, lang)
}

func (c *Composer) localize(ctx context.Context, msg, lang string) (string, error) {
	if c.translator == nil {
		return msg, nil
	}
	out, err := c.translator.Translate(ctx, msg, lang)
	if err != nil {
		return "", fmt.Errorf("failed to translate notification to %s: %w", lang, err)
	}
	return out, nil
}
