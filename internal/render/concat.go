package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/clipcraft/api/internal/client"
)

// Concatenator joins clips into the final video.
type Concatenator struct {
	transcoder client.Transcoder
	encoding   Encoding
}

func NewConcatenator(t client.Transcoder, enc Encoding) *Concatenator {
	return &Concatenator{transcoder: t, encoding: enc}
}

// Concatenate joins clips in order into outFile with one transcoder call.
// On failure any partial outFile is removed and a *ConcatenationError is
// returned.
func (c *Concatenator) Concatenate(ctx context.Context, clips []string, outFile string, target Target) error {
	if len(clips) == 0 {
		return &ConcatenationError{Cause: errors.New("no clips to concatenate")}
	}

	if err := c.transcoder.Run(ctx, c.invocation(clips, outFile, target)); err != nil {
		_ = os.Remove(outFile)
		return &ConcatenationError{Cause: err}
	}

	if st, err := os.Stat(outFile); err != nil || st.Size() == 0 {
		_ = os.Remove(outFile)
		return &ConcatenationError{Cause: errors.New("transcoder produced no output")}
	}
	return nil
}

func (c *Concatenator) invocation(clips []string, outFile string, target Target) client.Invocation {
	inputs := make([]client.Input, 0, len(clips)+1)
	var graph strings.Builder
	for i, clip := range clips {
		inputs = append(inputs, client.Input{Path: clip})
		fmt.Fprintf(&graph, "[%d:v]", i)
	}
	fmt.Fprintf(&graph, "concat=n=%d:v=1:a=0[outv]", len(clips))

	opts := []string{"-map", "[outv]"}
	if target.Audio != "" {
		inputs = append(inputs, client.Input{Path: target.Audio, Options: []string{"-stream_loop", "-1"}})
		bitrate := c.encoding.AudioBitrate
		if bitrate == "" {
			bitrate = "192k"
		}
		opts = append(opts,
			"-map", fmt.Sprintf("%d:a", len(clips)),
			"-c:a", "aac",
			"-b:a", bitrate,
			"-shortest",
		)
	} else {
		opts = append(opts, "-an")
	}
	opts = append(opts, c.encoding.videoOptions(target.FPS)...)
	opts = append(opts, "-movflags", "+faststart")

	return client.Invocation{
		Inputs:        inputs,
		FilterComplex: graph.String(),
		OutputOptions: opts,
		Output:        outFile,
	}
}
