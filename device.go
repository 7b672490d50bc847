package webcamctl

import (
	"context"
	"fmt"
)

// Device addresses one video device through a v4l2-ctl compatible tool
type Device struct {
	Tool string
	Path string
}

// ListArgs builds the control listing command
func (d Device) ListArgs() []string {
	return []string{d.Tool, "-d", d.Path, "-l"}
}

// SetArgs builds the command assigning value to the named control
func (d Device) SetArgs(name string, value int64) []string {
	return []string{d.Tool, "-d", d.Path, "-c", fmt.Sprintf("%s=%d", name, value)}
}

// Read and parse the current control table from device
func (d Device) ListControls(ctx context.Context, exec Executor) (Table, error) {
	out, err := exec.Execute(ctx, d.ListArgs())
	if err != nil {
		return nil, err
	}
	return ParseControls(out), nil
}

// Write raw control value to device
func (d Device) SetControl(ctx context.Context, exec Executor, name string, value int64) error {
	_, err := exec.Execute(ctx, d.SetArgs(name, value))
	return err
}
