package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for tests.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// Normalizer converts a recording to 16 kHz mono loudness-normalised WAV.
type Normalizer struct {
	ffmpeg string
	runner commandRunner
}

// NewNormalizer uses the ffmpeg binary at path (or "ffmpeg" from PATH).
func NewNormalizer(path string) *Normalizer {
	if path == "" {
		path = "ffmpeg"
	}
	return &Normalizer{ffmpeg: path, runner: execRunner{}}
}

// Normalize returns the converted audio bytes. The intermediate file is
// removed before returning.
func (n *Normalizer) Normalize(ctx context.Context, input string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "callwatch-norm-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "normalized.wav")
	args := []string{"-y", "-i", input, "-af", "loudnorm", "-ar", "16000", "-ac", "1", "-f", "wav", out}
	res, err := n.runner.Run(ctx, n.ffmpeg, args...)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg exit %d: %s: %w", res.ExitCode, lastLine(res.Stderr), err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read normalized audio: %w", err)
	}
	return data, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
