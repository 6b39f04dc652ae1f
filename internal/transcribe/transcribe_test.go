package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractOTP(t *testing.T) {
	cases := []struct {
		text string
		want string
		ok   bool
	}{
		{"Your verification code: 482913. Call 5550 for help", "482913", true},
		{"call 5550 then enter pin 7788", "7788", true},
		{"4821 is your login number", "4821", true},
		{"Su código es 9031", "9031", true},
		{"el código 123456", "123456", true},
		{"please dial 20931 now", "20931", true},
		{"nothing here 123", "", false},
		{"reference 1234567", "", false},
	}
	for _, tc := range cases {
		got, ok := ExtractOTP(tc.text)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%q: expected %q/%v, got %q/%v", tc.text, tc.want, tc.ok, got, ok)
		}
	}
}

type fakeRunner struct {
	args []string
	err  error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (commandResult, error) {
	f.args = append([]string{name}, args...)
	if f.err != nil {
		return commandResult{Stderr: "header\ninvalid data", ExitCode: 1}, f.err
	}
	out := args[len(args)-1]
	return commandResult{}, os.WriteFile(out, []byte("RIFFwav"), 0o644)
}

func TestNormalizerArgs(t *testing.T) {
	r := &fakeRunner{}
	n := &Normalizer{ffmpeg: "ffmpeg", runner: r}
	data, err := n.Normalize(context.Background(), "/tmp/in.mp3")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if string(data) != "RIFFwav" {
		t.Fatalf("unexpected output %q", data)
	}
	want := []string{"ffmpeg", "-y", "-i", "/tmp/in.mp3", "-af", "loudnorm", "-ar", "16000", "-ac", "1", "-f", "wav"}
	for i, a := range want {
		if r.args[i] != a {
			t.Fatalf("arg %d: expected %s, got %s", i, a, r.args[i])
		}
	}
	if _, err := os.Stat(r.args[len(r.args)-1]); !os.IsNotExist(err) {
		t.Fatalf("expected intermediate file removed")
	}
}

func TestNormalizerFailure(t *testing.T) {
	n := &Normalizer{ffmpeg: "ffmpeg", runner: &fakeRunner{err: errors.New("exit status 1")}}
	if _, err := n.Normalize(context.Background(), "in.mp3"); err == nil {
		t.Fatalf("expected ffmpeg failure")
	}
}

type scriptedTranscriber struct {
	byLang map[string]string
	seen   []string
}

func (s *scriptedTranscriber) Transcribe(_ context.Context, _ []byte, lang string) (string, error) {
	s.seen = append(s.seen, lang)
	if text, ok := s.byLang[lang]; ok {
		return text, nil
	}
	return "", ErrNoSpeech
}

func TestExtractorFallsBackToSecondLanguage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tr := &scriptedTranscriber{byLang: map[string]string{"es": "su código es 5521"}}
	res, err := NewExtractor(nil, tr, []string{"en", "es"}).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.OTP != "5521" || res.Language != "es" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(tr.seen) != 2 || tr.seen[0] != "en" {
		t.Fatalf("expected en then es, got %v", tr.seen)
	}

	tr = &scriptedTranscriber{}
	if _, err := NewExtractor(nil, tr, nil).Extract(context.Background(), path); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestOpenAITranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Fatalf("missing auth header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("multipart: %v", err)
		}
		switch r.FormValue("language") {
		case "en":
			_, _ = w.Write([]byte(`{"text":"  "}`))
		default:
			_, _ = w.Write([]byte(`{"text":"your code is 1234"}`))
		}
	}))
	defer srv.Close()

	c := &OpenAI{APIKey: "sk-test", BaseURL: srv.URL, HTTP: srv.Client()}
	if _, err := c.Transcribe(context.Background(), []byte("wav"), "en"); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech for blank text, got %v", err)
	}
	text, err := c.Transcribe(context.Background(), []byte("wav"), "es")
	if err != nil || text != "your code is 1234" {
		t.Fatalf("unexpected transcript %q, %v", text, err)
	}
}
