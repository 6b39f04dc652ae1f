// Package processor handles a completed call: it fetches the recording with
// the session's cookies, notifies the group, and always cleans up.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"callwatch/formatting"
	"callwatch/internal/calls"
	"callwatch/internal/events"
	"callwatch/internal/metrics"
	"callwatch/internal/notify"
	"callwatch/internal/transcribe"
)

// Stages reported in StageError.
const (
	StagePrepare     = "prepare"
	StageDownload    = "download"
	StageSendVoice   = "send_voice"
	StageSendText    = "send_text"
	StageSendFailure = "send_failure"
	StageTranscribe  = "transcribe"
	StageCleanup     = "cleanup"
)

// StageError is a stage-aware failure. Kind is a short machine-readable cause.
type StageError struct {
	Stage string
	Kind  string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrTooSmall marks a recording at or below the byte threshold.
var ErrTooSmall = errors.New("recording below size threshold")

// Branch is the notification path taken for a call.
type Branch string

const (
	BranchVoice   Branch = "voice"
	BranchText    Branch = "text"
	BranchFailure Branch = "failure"
)

// Job is everything a worker needs; it never touches the browser.
type Job struct {
	Call      calls.CallSession
	Cookies   []*http.Cookie
	UserAgent string
}

// Result describes what happened to one call.
type Result struct {
	CallID      string
	Branch      Branch
	Bytes       int64
	OTP         string
	Errors      []*StageError
	FileRemoved bool
	Released    bool
}

// Err returns the first stage error, if any.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// Releaser removes a call id from the processing set.
type Releaser interface {
	Release(id string) bool
}

// OTPExtractor is the optional transcription enrichment.
type OTPExtractor interface {
	Extract(ctx context.Context, path string) (transcribe.Result, error)
}

// Options configure the processor.
type Options struct {
	DownloadDir     string
	MinBytes        int64
	DownloadTimeout time.Duration
	PrimeDelay      time.Duration
	CallURL         string
	BaseURL         string
	AdminChatID     string
	GroupChatID     string
	Location        *time.Location
}

// Processor runs the completed-call pipeline.
type Processor struct {
	opts      Options
	client    *http.Client
	notifier  notify.Notifier
	extractor OTPExtractor
	releaser  Releaser
	bus       *events.Bus
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger

	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	createTemp func(dir, pattern string) (*os.File, error)
	remove     func(name string) error
}

// New returns a processor. extractor and bus may be nil.
func New(opts Options, notifier notify.Notifier, extractor OTPExtractor, releaser Releaser, bus *events.Bus, m *metrics.Metrics, log *zap.SugaredLogger) *Processor {
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Processor{
		opts:       opts,
		client:     &http.Client{},
		notifier:   notifier,
		extractor:  extractor,
		releaser:   releaser,
		bus:        bus,
		metrics:    m,
		log:        log,
		now:        time.Now,
		sleep:      sleepCtx,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// WithHTTPClient overrides the download client.
func (p *Processor) WithHTTPClient(c *http.Client) *Processor {
	p.client = c
	return p
}

// Process runs the pipeline for one call. The call id is released exactly
// once and the local file removed on every path, including panics.
func (p *Processor) Process(ctx context.Context, job Job) (res Result) {
	call := job.Call
	res.CallID = call.ID
	log := p.log.With("call_id", call.ID, "number", formatting.Mask(call.PhoneNumber))

	path := ""
	defer func() {
		if path != "" {
			if err := p.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				res.Errors = append(res.Errors, &StageError{Stage: StageCleanup, Kind: "remove", Err: err})
				log.Warnw("temp file not removed", "path", path, "err", err)
			} else {
				res.FileRemoved = true
			}
		} else {
			res.FileRemoved = true
		}
		res.Released = p.releaser.Release(call.ID)
		p.publish(res)
	}()

	if call.AdminMessageID != 0 && p.opts.AdminChatID != "" {
		if err := p.notifier.DeleteMessage(ctx, p.opts.AdminChatID, call.AdminMessageID); err != nil {
			log.Warnw("admin message not deleted", "err", err)
		}
	}

	if p.opts.PrimeDelay > 0 {
		if err := p.sleep(ctx, p.opts.PrimeDelay); err != nil {
			res.Errors = append(res.Errors, &StageError{Stage: StagePrepare, Kind: "cancelled", Err: err})
			res.Branch = BranchFailure
			return res
		}
	}

	notice := formatting.Notice{Number: call.PhoneNumber, Country: call.Country, Flag: call.Flag, At: call.DetectedAt}

	var err error
	path, err = p.prepare(call)
	if err != nil {
		res.Errors = append(res.Errors, &StageError{Stage: StagePrepare, Kind: "create", Err: err})
		p.fail(ctx, &res, notice, log)
		return res
	}

	n, err := p.download(ctx, job, path)
	res.Bytes = n
	p.metrics.Download(err == nil)
	if err != nil {
		kind := "http"
		if errors.Is(err, ErrTooSmall) {
			kind = "too_small"
		}
		res.Errors = append(res.Errors, &StageError{Stage: StageDownload, Kind: kind, Err: err})
		log.Warnw("download failed", "bytes", n, "err", err)
		p.fail(ctx, &res, notice, log)
		return res
	}
	log.Infow("recording downloaded", "bytes", humanize.Bytes(uint64(n)))

	caption := formatting.Caption(notice, p.opts.Location)
	if err := p.notifier.SendVoice(ctx, p.opts.GroupChatID, path, caption); err == nil {
		res.Branch = BranchVoice
		p.metrics.VoiceSent()
	} else {
		res.Errors = append(res.Errors, &StageError{Stage: StageSendVoice, Kind: "transport", Err: err})
		log.Warnw("voice rejected, sending caption", "err", err)
		if _, err := p.notifier.SendText(ctx, p.opts.GroupChatID, caption); err == nil {
			res.Branch = BranchText
			p.metrics.TextFallback()
		} else {
			res.Errors = append(res.Errors, &StageError{Stage: StageSendText, Kind: "transport", Err: err})
			p.fail(ctx, &res, notice, log)
		}
	}

	p.enrich(ctx, &res, notice, path, log)
	return res
}

func (p *Processor) prepare(call calls.CallSession) (string, error) {
	if err := os.MkdirAll(p.opts.DownloadDir, 0o755); err != nil {
		return "", err
	}
	f, err := p.createTemp(p.opts.DownloadDir, formatting.RecordingPattern(call.PhoneNumber, p.now()))
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return name, err
	}
	return name, nil
}

func (p *Processor) download(ctx context.Context, job Job, path string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.Call.RecordingURL, nil)
	if err != nil {
		return 0, err
	}
	if job.UserAgent != "" {
		req.Header.Set("User-Agent", job.UserAgent)
	}
	req.Header.Set("Accept", "audio/mpeg, audio/*, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if p.opts.CallURL != "" {
		req.Header.Set("Referer", p.opts.CallURL)
	}
	if p.opts.BaseURL != "" {
		req.Header.Set("Origin", p.opts.BaseURL)
	}
	req.Header.Set("Sec-Fetch-Dest", "audio")
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	for _, c := range job.Cookies {
		req.AddCookie(c)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("recording status %d", resp.StatusCode)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if n <= p.opts.MinBytes {
		return n, fmt.Errorf("%w: %d bytes", ErrTooSmall, n)
	}
	return n, nil
}

func (p *Processor) fail(ctx context.Context, res *Result, notice formatting.Notice, log *zap.SugaredLogger) {
	res.Branch = BranchFailure
	if _, err := p.notifier.SendText(ctx, p.opts.GroupChatID, formatting.FailureText(notice, p.opts.Location)); err != nil {
		res.Errors = append(res.Errors, &StageError{Stage: StageSendFailure, Kind: "transport", Err: err})
		log.Errorw("failure notice not sent", "err", err)
		return
	}
	p.metrics.FailureNotice()
}

// enrich is best-effort: no outcome here changes the branch.
func (p *Processor) enrich(ctx context.Context, res *Result, notice formatting.Notice, path string, log *zap.SugaredLogger) {
	if p.extractor == nil {
		return
	}
	out, err := p.extractor.Extract(ctx, path)
	if err != nil {
		if !errors.Is(err, transcribe.ErrNoSpeech) {
			res.Errors = append(res.Errors, &StageError{Stage: StageTranscribe, Kind: "extract", Err: err})
		}
		log.Infow("no transcript", "err", err)
		return
	}
	if out.OTP == "" {
		log.Infow("no otp in transcript", "language", out.Language)
		return
	}
	res.OTP = out.OTP
	p.metrics.OTPFound()
	log.Infow("otp extracted", "language", out.Language)
	if p.opts.AdminChatID == "" {
		return
	}
	if _, err := p.notifier.SendText(ctx, p.opts.AdminChatID, formatting.OTPText(notice, out.OTP, p.opts.Location)); err != nil {
		log.Warnw("otp not delivered", "err", err)
	}
}

func (p *Processor) publish(res Result) {
	ev := events.CallProcessed{
		CallID:  res.CallID,
		Outcome: string(res.Branch),
		Bytes:   res.Bytes,
		OTP:     res.OTP,
		At:      p.now(),
	}
	if err := res.Err(); err != nil {
		ev.Err = err.Error()
	}
	p.bus.Publish(ev)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
