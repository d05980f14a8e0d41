package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/shlex"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// diagnosticTail bounds how much engine output travels with a failure.
const diagnosticTail = 2000

// Throttle is the minimum-headroom policy checked before each transcode.
// Zero values disable the corresponding check.
type Throttle struct {
	IdleCPUPercent float64
	FreeMemBytes   int64
	FreeDiskBytes  int64
}

// Executor runs fully built transcoding commands against the ffmpeg binary.
type Executor struct {
	bin      string
	throttle Throttle
	logger   *zap.Logger
}

func NewExecutor(bin string, throttle Throttle, logger *zap.Logger) (*Executor, error) {
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found in PATH: %s", bin)
	}
	return &Executor{bin: bin, throttle: throttle, logger: logger}, nil
}

// Run executes cmd with the given stage timeout. A non-zero exit is returned
// as an error carrying the last diagnosticTail bytes of engine output; the
// partial output file is removed.
func (e *Executor) Run(ctx context.Context, cmd Command, timeout time.Duration) error {
	if err := e.checkResources(cmd.OutputPath); err != nil {
		return fmt.Errorf("insufficient system resources: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := cmd.Args()
	proc := exec.CommandContext(ctx, e.bin, args...)
	var output bytes.Buffer
	proc.Stdout = &output
	proc.Stderr = &output

	e.logger.Debug("executing ffmpeg", zap.Strings("args", args))
	start := time.Now()

	if err := proc.Run(); err != nil {
		os.Remove(cmd.OutputPath)
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timed out after %s: %s", timeout, tail(output.String(), diagnosticTail))
		}
		return fmt.Errorf("ffmpeg failed: %s", tail(output.String(), diagnosticTail))
	}

	e.logger.Info("ffmpeg finished",
		zap.String("output", cmd.OutputPath),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// checkResources refuses to start a transcode on a starved host.
func (e *Executor) checkResources(outputPath string) error {
	if e.throttle.IdleCPUPercent > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			e.logger.Warn("could not get CPU usage", zap.Error(err))
		} else if len(p) > 0 && p[0] > 100.0-e.throttle.IdleCPUPercent {
			return fmt.Errorf("not enough idle CPU: usage %.2f%%", p[0])
		}
	}

	if e.throttle.FreeMemBytes > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			e.logger.Warn("could not get memory usage", zap.Error(err))
		} else if vm.Available < uint64(e.throttle.FreeMemBytes) {
			return fmt.Errorf("not enough free memory: available %d, required %d", vm.Available, e.throttle.FreeMemBytes)
		}
	}

	if e.throttle.FreeDiskBytes > 0 && outputPath != "" {
		d, err := disk.Usage(os.TempDir())
		if err != nil {
			e.logger.Warn("could not get disk usage", zap.Error(err))
		} else if d.Free < uint64(e.throttle.FreeDiskBytes) {
			return fmt.Errorf("not enough free disk: available %d, required %d", d.Free, e.throttle.FreeDiskBytes)
		}
	}
	return nil
}

// ParseEncoderArgs splits a configured encoder-argument string into argv form
// without involving a shell.
func ParseEncoderArgs(s string) ([]string, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid encoder args: %w", err)
	}
	return args, nil
}

// tail returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
