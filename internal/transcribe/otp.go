package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
)

// otpPatterns are tried in order; keyword anchored forms come before the
// bare digit fallback so "code 4821 call 5550" yields 4821.
var otpPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcode[\s:\-]*(\d{4,6})\b`),
	regexp.MustCompile(`(?i)\bverification[\s:\-]*(\d{4,6})\b`),
	regexp.MustCompile(`(?i)\bpassword[\s:\-]*(\d{4,6})\b`),
	regexp.MustCompile(`(?i)\botp[\s:\-]*(\d{4,6})\b`),
	regexp.MustCompile(`(?i)\bpin[\s:\-]*(\d{4,6})\b`),
	regexp.MustCompile(`(?i)\b(\d{4,6})\s*is\s*your\b`),
	regexp.MustCompile(`(?i)\byour\s*code\s*is\s*(\d{4,6})\b`),
	regexp.MustCompile(`(?i)código[\s:\-]*(\d{4,6})\b`),
	regexp.MustCompile(`(?i)verificación[\s:\-]*(\d{4,6})\b`),
	regexp.MustCompile(`\b(\d{4,6})\b`),
}

// ExtractOTP returns the first code found by the ordered pattern cascade.
func ExtractOTP(text string) (string, bool) {
	for _, re := range otpPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// Result of one extraction.
type Result struct {
	Text     string
	Language string
	OTP      string
}

// Extractor runs normalisation, transcription with language fallback, then
// the OTP cascade.
type Extractor struct {
	normalizer  *Normalizer
	transcriber Transcriber
	languages   []string
}

// NewExtractor builds an extractor. A nil normalizer sends the raw file.
func NewExtractor(n *Normalizer, t Transcriber, languages []string) *Extractor {
	if len(languages) == 0 {
		languages = []string{"en", "es"}
	}
	return &Extractor{normalizer: n, transcriber: t, languages: languages}
}

// Extract returns ErrNoSpeech when no language produced text. A transcript
// without a code is a successful Result with an empty OTP.
func (e *Extractor) Extract(ctx context.Context, path string) (Result, error) {
	var audio []byte
	var err error
	if e.normalizer != nil {
		audio, err = e.normalizer.Normalize(ctx, path)
	} else {
		audio, err = os.ReadFile(path)
	}
	if err != nil {
		return Result{}, fmt.Errorf("prepare audio: %w", err)
	}

	for _, lang := range e.languages {
		text, err := e.transcriber.Transcribe(ctx, audio, lang)
		if errors.Is(err, ErrNoSpeech) {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("transcribe %s: %w", lang, err)
		}
		res := Result{Text: text, Language: lang}
		res.OTP, _ = ExtractOTP(text)
		return res, nil
	}
	return Result{}, ErrNoSpeech
}
