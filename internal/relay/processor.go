package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ar-recorder/recorder/pkg/core"
)

// Processor turns an extracted session folder into a wire response.
type Processor interface {
	Process(ctx context.Context, sessionDir string) (core.UploadResponse, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, sessionDir string) (core.UploadResponse, error)

func (f ProcessorFunc) Process(ctx context.Context, sessionDir string) (core.UploadResponse, error) {
	return f(ctx, sessionDir)
}

// ErrNoCommand is returned when no processing command is configured.
var ErrNoCommand = errors.New("relay.command is not configured")

// tailLines is how much process output is kept for error reports.
const tailLines = 20

// CommandProcessor runs an external command with the session folder as its
// last argument.
type CommandProcessor struct {
	Command []string
	// WorkDir is where the command runs and where it writes
	// <session>_result.json. Empty uses the session's parent directory.
	WorkDir string
	Logger  *slog.Logger
}

// resultFile is what the processing command writes or prints.
type resultFile struct {
	CupCoordinates []float64          `json:"cup_coordinates"`
	RotationAxis   *core.RotationAxis `json:"rotation_axis"`
}

// Process runs the command and collects its result. Output is logged line by
// line as it arrives.
func (p *CommandProcessor) Process(ctx context.Context, sessionDir string) (core.UploadResponse, error) {
	if len(p.Command) == 0 {
		return core.UploadResponse{}, ErrNoCommand
	}
	workDir := p.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(sessionDir)
	}
	name := SessionName(sessionDir)

	args := append(append([]string{}, p.Command[1:]...), sessionDir)
	cmd := exec.CommandContext(ctx, p.Command[0], args...)
	cmd.Dir = workDir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return core.UploadResponse{}, err
	}
	cmd.Stderr = cmd.Stdout

	p.Logger.Info("Starting session processing", "session", name, "command", p.Command[0])
	if err := cmd.Start(); err != nil {
		return core.UploadResponse{}, fmt.Errorf("starting processor: %w", err)
	}
	lines := p.collect(stdout, name)
	if err := cmd.Wait(); err != nil {
		tail := lines[max(0, len(lines)-tailLines):]
		return core.UploadResponse{}, fmt.Errorf("processor failed: %w\n%s", err, strings.Join(tail, "\n"))
	}

	res, ok, err := readResultFile(filepath.Join(workDir, name+"_result.json"))
	if err != nil {
		p.Logger.Warn("Unreadable result file, falling back to output", "session", name, "error", err)
	}
	if !ok {
		res = parseOutput(lines)
	}
	return toResponse(res), nil
}

func (p *CommandProcessor) collect(r io.Reader, session string) []string {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		p.Logger.Debug("Processor output", "session", session, "line", line)
		lines = append(lines, line)
	}
	return lines
}

func readResultFile(path string) (resultFile, bool, error) {
	var res resultFile
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return res, false, nil
	}
	if err != nil {
		return res, false, err
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, false, err
	}
	return res, true, nil
}

// parseOutput takes the first output line that decodes as a JSON object.
func parseOutput(lines []string) resultFile {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var res resultFile
		if err := json.Unmarshal([]byte(line), &res); err == nil {
			return res
		}
	}
	return resultFile{}
}

func toResponse(res resultFile) core.UploadResponse {
	coords := res.CupCoordinates
	if len(coords) == 0 {
		coords = []float64{0, 0, 0}
	}
	return core.UploadResponse{
		Success:        true,
		CupCoordinates: coords,
		RotationAxis:   res.RotationAxis,
		Message:        "processing complete",
	}
}
