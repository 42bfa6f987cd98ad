package processor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/adr/internal/queue"
)

// BuildScript renders the job script: a shebang, then the pre-processing,
// command and post-processing lines, skipping absent ones.
func BuildScript(interpreter string, job queue.Job) string {
	var sb strings.Builder
	sb.WriteString("#!" + interpreter + "\n")
	for _, line := range []string{job.PreProcessing, job.Command, job.PostProcessing} {
		if strings.TrimSpace(line) == "" {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// runScript writes the job script, runs it inside batchDir and logs its
// output. A non-zero exit is logged, not returned.
func (p *Processor) runScript(ctx context.Context, job queue.Job, batchDir string) error {
	dir := filepath.Join(p.cfg.WorkDir, stateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	script := filepath.Join(dir, "job-"+uuid.NewString()+".sh")
	if err := os.WriteFile(script, []byte(BuildScript(p.cfg.Interpreter, job)), 0o755); err != nil {
		return err
	}
	defer os.Remove(script)
	if err := os.Chmod(script, 0o755); err != nil {
		return err
	}

	p.log.Info("running job", zap.String("batch", job.Batch), zap.String("command", job.Command))
	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = batchDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	logOutput(p.log, job.Batch, out.Bytes())

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		p.log.Warn("job exited with non-zero status",
			zap.String("batch", job.Batch),
			zap.String("command", job.Command),
			zap.Int("exit_code", exitErr.ExitCode()),
		)
		return nil
	}
	return err
}

func logOutput(log *zap.Logger, batchID string, out []byte) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		log.Debug("job output", zap.String("batch", batchID), zap.String("line", sc.Text()))
	}
}
