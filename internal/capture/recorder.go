package capture

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"sync"
	"time"
)

// amplitudeWindow is how many artifact tail bytes feed the level meter
// (100 ms of PCM-16 mono at 16 kHz).
const amplitudeWindow = 3200

// CommandRecorder captures audio by running an external capture command
// (arecord, sox, ffmpeg) that writes PCM-16 to stdout, teeing it into a
// transient artifact file. The normalized amplitude is derived from the
// artifact tail.
type CommandRecorder struct {
	command string
	args    []string
	dir     string
	logger  *slog.Logger

	cmd      *exec.Cmd
	artifact *os.File

	mu sync.Mutex
}

// NewCommandRecorder creates a recorder around the given capture command.
// dir is where transient artifacts are created; empty means the system
// temp directory.
func NewCommandRecorder(command string, args []string, dir string, logger *slog.Logger) *CommandRecorder {
	return &CommandRecorder{
		command: command,
		args:    args,
		dir:     dir,
		logger:  logger,
	}
}

// Start acquires the capture device by launching the capture command.
func (r *CommandRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return fmt.Errorf("recorder already running")
	}

	artifact, err := os.CreateTemp(r.dir, "capture-*.pcm")
	if err != nil {
		return fmt.Errorf("failed to create artifact file: %w", err)
	}

	cmd := exec.Command(r.command, r.args...)
	cmd.Stdout = artifact

	if err := cmd.Start(); err != nil {
		artifact.Close()
		os.Remove(artifact.Name())
		return fmt.Errorf("failed to start capture command %q: %w", r.command, err)
	}

	r.cmd = cmd
	r.artifact = artifact

	r.logger.Debug("Capture command started",
		slog.String("command", r.command),
		slog.String("artifact", artifact.Name()),
	)

	return nil
}

// Amplitude computes the normalized RMS level of the artifact tail.
func (r *CommandRecorder) Amplitude() float64 {
	r.mu.Lock()
	artifact := r.artifact
	r.mu.Unlock()

	if artifact == nil {
		return 0
	}

	info, err := artifact.Stat()
	if err != nil || info.Size() < 2 {
		return 0
	}

	window := int64(amplitudeWindow)
	if info.Size() < window {
		window = info.Size() &^ 1 // PCM-16 frames are 2 bytes
	}

	buf := make([]byte, window)
	if _, err := artifact.ReadAt(buf, info.Size()-window); err != nil {
		return 0
	}

	var sumSquares float64
	samples := len(buf) / 2
	for i := 0; i < samples; i++ {
		sample := int16(buf[i*2]) | int16(buf[i*2+1])<<8
		sumSquares += float64(sample) * float64(sample)
	}

	rms := math.Sqrt(sumSquares/float64(samples)) / 32768.0
	if rms > 1 {
		rms = 1
	}

	return rms
}

// Stop releases the capture device and returns the artifact path.
func (r *CommandRecorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil {
		return "", fmt.Errorf("recorder not running")
	}

	cmd := r.cmd
	artifact := r.artifact
	r.cmd = nil
	r.artifact = nil

	path := artifact.Name()

	// Ask the capture command to finish, escalating if it does not.
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		cmd.Process.Kill()
		<-done
	}

	if err := artifact.Close(); err != nil {
		return path, fmt.Errorf("failed to close artifact: %w", err)
	}

	r.logger.Debug("Capture command stopped", slog.String("artifact", path))

	return path, nil
}
