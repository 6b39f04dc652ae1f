package challenge

import (
	"context"
	"time"

	"callwatch/internal/browser"
)

var (
	frameSelectors = []string{
		"iframe[src*='challenges.cloudflare.com']",
		"iframe[src*='turnstile']",
		"iframe[title*='challenge']",
		"iframe[src*='captcha']",
	}
	checkboxSelectors = []string{
		"input[type='checkbox']",
		".ctp-checkbox-label",
		"label.cb-lb",
		"[role='checkbox']",
		"#challenge-stage input",
	}
	successSelectors = []string{
		"#success",
		"[aria-checked='true']",
		"input[type='checkbox']:checked",
		".success-text",
	}
	formSelectors   = []string{"#challenge-form", "form[action*='challenge']"}
	submitSelectors = []string{"input[type='submit']", "button[type='submit']", "button"}

	genericSelectors = []string{
		".cf-turnstile",
		"#cf-challenge-running",
		"#turnstile-wrapper",
		"[data-sitekey]",
		"#challenge-stage",
	}
)

// DefaultStrategies is the ordered fallback list: iframe checkbox, form
// submit, then a direct click on any challenge element.
func DefaultStrategies(pacer browser.Pacer) []Strategy {
	return []Strategy{
		{Name: "iframe-checkbox", Timeout: 20 * time.Second, Try: iframeCheckbox(pacer)},
		{Name: "form-submit", Timeout: 15 * time.Second, Try: formSubmit(pacer)},
		{Name: "generic-click", Timeout: 10 * time.Second, Try: genericClick(pacer)},
	}
}

func iframeCheckbox(pacer browser.Pacer) func(context.Context, browser.Page) Outcome {
	return func(ctx context.Context, page browser.Page) Outcome {
		iframe, _, ok := browser.FirstMatch(ctx, page, frameSelectors)
		if !ok {
			return Unresolved
		}
		frame, err := iframe.Frame(ctx)
		if err != nil {
			return Unresolved
		}
		box, _, ok := browser.FirstMatch(ctx, frame, checkboxSelectors)
		if !ok {
			return Unresolved
		}
		if err := pacer.Pause(ctx, 500*time.Millisecond, 1500*time.Millisecond); err != nil {
			return Unresolved
		}
		if err := box.HoverClick(ctx); err != nil {
			return Unresolved
		}
		if err := pacer.Pause(ctx, 2*time.Second, 4*time.Second); err != nil {
			return Unresolved
		}
		if browser.AnyMatch(ctx, frame, successSelectors) || !Detect(ctx, page) {
			return Resolved
		}
		return Unresolved
	}
}

func formSubmit(pacer browser.Pacer) func(context.Context, browser.Page) Outcome {
	return func(ctx context.Context, page browser.Page) Outcome {
		form, _, ok := browser.FirstMatch(ctx, page, formSelectors)
		if !ok {
			return Unresolved
		}
		submit, _, ok := browser.FirstMatch(ctx, form, submitSelectors)
		if !ok {
			return Unresolved
		}
		if err := submit.Click(ctx); err != nil {
			return Unresolved
		}
		return settled(ctx, page, pacer)
	}
}

func genericClick(pacer browser.Pacer) func(context.Context, browser.Page) Outcome {
	return func(ctx context.Context, page browser.Page) Outcome {
		el, _, ok := browser.FirstMatch(ctx, page, genericSelectors)
		if !ok {
			return Unresolved
		}
		if err := el.HoverClick(ctx); err != nil {
			return Unresolved
		}
		return settled(ctx, page, pacer)
	}
}

func settled(ctx context.Context, page browser.Page, pacer browser.Pacer) Outcome {
	if err := pacer.Pause(ctx, 2*time.Second, 4*time.Second); err != nil {
		return Unresolved
	}
	if Detect(ctx, page) {
		return Unresolved
	}
	return Resolved
}
