package reconpipeline

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

// OSRunner implements domain.SubprocessRunner by invoking a real executable
// with its stdout/stderr interleaved into log in the order written, same
// shape as connector.runCommand's stdout/stderr forwarding but without the
// container-lifecycle machinery this module has no use for.
type OSRunner struct{}

func (OSRunner) Run(ctx domain.Context, name string, args []string, dir string, log domain.WriteFlusher) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var mu sync.Mutex
	writer := func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		n, err := log.Write(p)
		if err == nil {
			err = log.Flush()
		}
		return n, err
	}
	cmd.Stdout = writerFunc(writer)
	cmd.Stderr = writerFunc(writer)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("op=reconpipeline.run name=%s: %w: %v", name, domain.ErrPipelineStageFailed, err)
	}
	return nil
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// FileLog is the on-disk, append-only log file each stage writes a header
// line into before invoking its external process (§4.8).
type FileLog struct {
	f *os.File
	w *bufio.Writer
}

func OpenFileLog(path string) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("op=reconpipeline.openlog path=%s: %w", path, err)
	}
	return &FileLog{f: f, w: bufio.NewWriter(f)}, nil
}

func (l *FileLog) Write(p []byte) (int, error) { return l.w.Write(p) }
func (l *FileLog) Flush() error                { return l.w.Flush() }
func (l *FileLog) WriteLine(line string) error {
	if _, err := l.w.WriteString(line + "\n"); err != nil {
		return err
	}
	return l.w.Flush()
}
func (l *FileLog) Close() error {
	_ = l.w.Flush()
	return l.f.Close()
}

var _ domain.SubprocessRunner = OSRunner{}
var _ domain.WriteFlusher = (*FileLog)(nil)
