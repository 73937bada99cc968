package engine

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FFmpeg runs the ffmpeg binary over temp files and parses its progress
// stream into fractional callbacks.
type FFmpeg struct {
	binary  string
	workDir string
}

func NewFFmpeg(binary, workDir string) (*FFmpeg, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary %q not found: %w", binary, err)
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &FFmpeg{binary: path, workDir: workDir}, nil
}

var durationRe = regexp.MustCompile(`Duration: (\d+):(\d+):(\d+(?:\.\d+)?)`)

func (f *FFmpeg) Run(ctx context.Context, args []string, input []byte, onProgress ProgressFunc) ([]byte, error) {
	id := uuid.NewString()
	inPath := filepath.Join(f.workDir, id+".in")
	outPath := filepath.Join(f.workDir, id+".mp4")
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	if err := os.WriteFile(inPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("write engine input: %w", err)
	}

	cmdArgs := []string{"-y", "-i", inPath}
	cmdArgs = append(cmdArgs, args...)
	cmdArgs = append(cmdArgs, "-progress", "pipe:1", outPath)

	cmd := exec.CommandContext(ctx, f.binary, cmdArgs...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	// Total duration arrives on stderr before encoding starts; progress
	// ticks arrive on stdout as out_time_us lines.
	durationCh := make(chan time.Duration, 1)
	stderrDone := make(chan struct{})
	var tail []string
	go func() {
		defer close(stderrDone)
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			line := sc.Text()
			if m := durationRe.FindStringSubmatch(line); m != nil {
				h, _ := strconv.Atoi(m[1])
				min, _ := strconv.Atoi(m[2])
				sec, _ := strconv.ParseFloat(m[3], 64)
				d := time.Duration(h)*time.Hour + time.Duration(min)*time.Minute +
					time.Duration(sec*float64(time.Second))
				select {
				case durationCh <- d:
				default:
				}
			}
			tail = append(tail, line)
			if len(tail) > 20 {
				tail = tail[1:]
			}
		}
	}()

	go func() {
		var total time.Duration
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			line := sc.Text()
			if total == 0 {
				select {
				case total = <-durationCh:
				default:
				}
			}
			if total == 0 || onProgress == nil {
				continue
			}
			if v, ok := strings.CutPrefix(line, "out_time_us="); ok {
				us, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					continue
				}
				fraction := float64(us) * float64(time.Microsecond) / float64(total)
				if fraction > 1 {
					fraction = 1
				}
				onProgress(fraction)
			}
		}
	}()

	if err := cmd.Wait(); err != nil {
		<-stderrDone
		return nil, fmt.Errorf("engine failed: %v: %s", err, strings.Join(tail, " | "))
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read engine output: %w", err)
	}
	return out, nil
}
