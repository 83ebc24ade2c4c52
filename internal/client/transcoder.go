package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clipcraft/api/internal/config"
	"github.com/clipcraft/api/pkg/logger"
)

// Input is one -i source with the options placed before it.
type Input struct {
	Path    string
	Options []string
}

// Invocation describes a single transcoder run.
type Invocation struct {
	Inputs        []Input
	VideoFilter   string
	FilterComplex string
	OutputOptions []string
	Output        string
}

// Transcoder runs an external media transform.
type Transcoder interface {
	Run(ctx context.Context, inv Invocation) error
}

// FFmpeg runs the ffmpeg binary. Each call is bounded by Timeout.
type FFmpeg struct {
	bin     string
	timeout time.Duration
	log     *zap.Logger
}

func NewFFmpeg(cfg *config.TranscoderConfig, log *zap.Logger) *FFmpeg {
	bin := cfg.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{
		bin:     bin,
		timeout: cfg.Timeout,
		log:     logger.OrNop(log).Named("ffmpeg"),
	}
}

// Available reports whether the binary can be found.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.bin)
	return err == nil
}

// Args builds the command line for inv.
func Args(inv Invocation) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	for _, in := range inv.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}
	if inv.VideoFilter != "" {
		args = append(args, "-vf", inv.VideoFilter)
	}
	if inv.FilterComplex != "" {
		args = append(args, "-filter_complex", inv.FilterComplex)
	}
	args = append(args, inv.OutputOptions...)
	return append(args, inv.Output)
}

func (f *FFmpeg) Run(ctx context.Context, inv Invocation) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := Args(inv)
	f.log.Debug("running ffmpeg", zap.Strings("args", args))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin, args...)
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("ffmpeg timed out after %s", f.timeout)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg canceled: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), 2048))
	}

	f.log.Debug("ffmpeg finished", zap.String("output", inv.Output), zap.Duration("took", time.Since(start)))
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
