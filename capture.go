package webcamctl

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Capturer takes a single still frame and stores it at outputPath
type Capturer interface {
	Capture(ctx context.Context, outputPath string) error
}

type Resolution struct {
	Width, Height uint
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// FFmpegCapturer grabs one frame by running ffmpeg against the device
type FFmpegCapturer struct {
	Tool        string
	Device      string
	PixelFormat string
	Size        Resolution
	Exec        Executor
	Logger      *zap.SugaredLogger
}

// Args builds the ffmpeg invocation writing one frame to outputPath
func (fc *FFmpegCapturer) Args(outputPath string) []string {
	return []string{
		fc.Tool, "-hide_banner", "-loglevel", "error", "-y",
		"-f", "v4l2",
		"-input_format", fc.PixelFormat,
		"-video_size", fc.Size.String(),
		"-i", fc.Device,
		"-frames:v", "1",
		outputPath,
	}
}

func (fc *FFmpegCapturer) Capture(ctx context.Context, outputPath string) error {
	logger := fc.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger.Infow("snapshot", "device", fc.Device, "output", outputPath)
	if _, err := fc.Exec.Execute(ctx, fc.Args(outputPath)); err != nil {
		return fmt.Errorf("snapshot of %s failed: %w", fc.Device, err)
	}
	logger.Infow("snapshot saved", "output", outputPath)
	return nil
}

// Get capturer for the configured snapshot backend
func CapturerFromConfig(cfg *Config, exec Executor, logger *zap.SugaredLogger) (Capturer, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	size := Resolution{Width: cfg.Snapshot.Width, Height: cfg.Snapshot.Height}
	switch cfg.Snapshot.Backend {
	case CaptureBackendFFmpeg, "":
		return &FFmpegCapturer{
			Tool:        cfg.Snapshot.Tool,
			Device:      cfg.Device,
			PixelFormat: cfg.Snapshot.PixelFormat,
			Size:        size,
			Exec:        exec,
			Logger:      logger,
		}, nil
	case CaptureBackendV4L2:
		return &V4L2Capturer{
			Device:  cfg.Device,
			Size:    size,
			Skip:    cfg.Snapshot.Skip,
			Timeout: cfg.CommandTimeout,
			Logger:  logger,
		}, nil
	}
	return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Snapshot.Backend)
}
