package webrtc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// FrameDecoder turns one H.264 access unit into an encoded JPEG image.
type FrameDecoder interface {
	DecodeJPEG(ctx context.Context, accessUnit []byte) ([]byte, error)
}

// FFmpegDecoder shells out to ffmpeg to decode the keyframe. The binary is
// resolved from PATH unless an explicit path is configured.
type FFmpegDecoder struct {
	Path string
}

func (d *FFmpegDecoder) DecodeJPEG(ctx context.Context, accessUnit []byte) ([]byte, error) {
	path := d.Path
	if path == "" {
		path = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, path,
		"-hide_banner", "-loglevel", "error",
		"-f", "h264", "-i", "pipe:0",
		"-frames:v", "1",
		"-c:v", "mjpeg", "-f", "image2", "pipe:1",
	)
	cmd.Stdin = bytes.NewReader(accessUnit)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w (%s)", err, bytes.TrimSpace(errOut.Bytes()))
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg decode: produced no image")
	}
	return out.Bytes(), nil
}
