package webcamctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	v4l2 "github.com/thinkski/go-v4l2"
	"go.uber.org/zap"
)

// 'M' 'J' 'P' 'G' fourcc
const pixFmtMJPEG = 0x47504a4d

// V4L2Capturer reads one MJPEG frame straight from the device without any
// external tool. The device must not be streaming elsewhere.
type V4L2Capturer struct {
	Device string
	Size   Resolution
	// frames dropped before the stored one, cameras often deliver dark frames first
	Skip    int
	Timeout time.Duration
	Logger  *zap.SugaredLogger
}

func (vc *V4L2Capturer) Capture(ctx context.Context, outputPath string) (err error) {
	logger := vc.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	timeout := vc.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Infow("snapshot", "device", vc.Device, "output", outputPath)
	device, err := v4l2.Open(vc.Device)
	if err != nil {
		return fmt.Errorf("V4L2 device opening error: %w", err)
	}
	defer func() {
		if closeErr := device.Close(); closeErr != nil {
			logger.Warnw("V4L2 device closing error", "device", vc.Device, "error", closeErr)
		}
	}()

	if err := device.SetPixelFormat(int(vc.Size.Width), int(vc.Size.Height), pixFmtMJPEG); err != nil {
		return fmt.Errorf("V4L2 pixel format error: %w", err)
	}
	if err := device.Start(); err != nil {
		return fmt.Errorf("V4L2 stream start error: %w", err)
	}

	var data []byte
	for skipped := 0; data == nil; skipped++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no frame from %s: %w", vc.Device, ctx.Err())
		case frame := <-device.C:
			// buffer memory is shared with the driver, copy before release
			if skipped >= vc.Skip {
				data = append([]byte(nil), frame.Data...)
			}
			frame.Release()
		}
	}

	if err := saveFrame(outputPath, data); err != nil {
		return err
	}
	logger.Infow("snapshot saved", "output", outputPath, "bytes", len(data))
	return nil
}

// Store MJPEG frame as is, or re-encoded when a png file is requested
func saveFrame(outputPath string, frame []byte) (err error) {
	if len(frame) == 0 {
		return errors.New("empty frame")
	}
	if !strings.EqualFold(filepath.Ext(outputPath), ".png") {
		return os.WriteFile(outputPath, frame, 0644)
	}
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("frame decoding error: %w", err)
	}
	outputFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := outputFile.Close(); err == nil {
			err = closeErr
		}
	}()
	return png.Encode(outputFile, img)
}
