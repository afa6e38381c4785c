// Package decoder invokes the external native replay decoder as a
// subprocess. The replay binary format is opaque to this system; the
// decoder's JSON output is the only contract.
package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/esports/backend/internal/domain/replay"
	"github.com/esports/backend/internal/infrastructure/config"
)

const (
	versionProbeTimeout = 10 * time.Second
	// maxCapturedOutput bounds the process output retained on failure.
	maxCapturedOutput = 4096
	// killWaitDelay bounds how long Run may linger on inherited pipes
	// after the process group has been killed at the deadline.
	killWaitDelay = 5 * time.Second
)

// Ensure Runner implements the replay port.
var _ replay.Decoder = (*Runner)(nil)

// Runner executes the decoder binary with a bounded wall-clock timeout
// and captured output. One invocation decodes one replay file into a
// JSON artifact in a per-job output directory.
type Runner struct {
	binaryPath string
	scratchDir string
	version    string
	logger     *zap.Logger
}

// NewRunner resolves the decoder binary and probes its version once.
// A missing binary is fatal; a failing version probe is not.
func NewRunner(cfg config.ReplayConfig, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	binaryPath, err := resolveBinaryPath(cfg.DecoderPath)
	if err != nil {
		return nil, fmt.Errorf("decoder binary not found at %q: %w", cfg.DecoderPath, err)
	}

	r := &Runner{
		binaryPath: binaryPath,
		scratchDir: cfg.ScratchDir,
		logger:     logger.Named("decoder"),
	}

	r.version = r.probeVersion()
	r.logger.Info("decoder resolved",
		zap.String("binary", binaryPath),
		zap.String("version", r.version))
	return r, nil
}

// resolveBinaryPath finds the full path to the binary.
func resolveBinaryPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return path, nil
	}
	return exec.LookPath(path)
}

// probeVersion runs `decoder --version`. The version string is stamped
// onto every decode summary so reprocessing after decoder upgrades is
// traceable.
func (r *Runner) probeVersion() string {
	ctx, cancel := context.WithTimeout(context.Background(), versionProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.binaryPath, "--version").Output()
	if err != nil {
		r.logger.Warn("decoder version probe failed", zap.Error(err))
		return "unknown"
	}
	version := strings.TrimSpace(string(out))
	if version == "" {
		return "unknown"
	}
	return version
}

// Version returns the decoder binary's version string.
func (r *Runner) Version() string {
	return r.version
}

// Decode runs the decoder on the replay at inputPath. The decoder writes
// its artifact into a fresh per-job directory; the newest JSON file in
// that directory is taken as the output. Nonzero exit and timeout both
// resolve to ErrDecodeFailed with captured process output.
func (r *Runner) Decode(ctx context.Context, matchID, inputPath string, timeout time.Duration) (*replay.DecodeSummary, error) {
	if inputPath == "" {
		return nil, fmt.Errorf("%w: empty input path", replay.ErrDecodeFailed)
	}

	outDir, err := os.MkdirTemp(r.scratchDir, "decode-"+matchID+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating decode output dir: %w", err)
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binaryPath,
		"--input", inputPath,
		"--output", outDir,
		"--match", matchID,
	)

	// The decoder forks worker processes that inherit the output pipes.
	// Kill the whole process group at the deadline, or Run blocks on the
	// orphans until they exit on their own.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("executing decoder",
		zap.String("match_id", matchID),
		zap.String("input", inputPath),
		zap.String("output_dir", outDir))

	err = cmd.Run()
	if err != nil {
		// A failed decode leaves no scratch behind.
		_ = os.RemoveAll(outDir)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %v: %s",
				replay.ErrDecodeFailed, timeout, capped(&stderr))
		}
		r.logger.Error("decoder failed",
			zap.String("match_id", matchID),
			zap.Error(err),
			zap.String("stderr", capped(&stderr)),
			zap.String("stdout", capped(&stdout)))
		return nil, fmt.Errorf("%w: %v: %s", replay.ErrDecodeFailed, err, capped(&stderr))
	}

	outputPath, outputBytes, err := findOutput(outDir)
	if err != nil {
		_ = os.RemoveAll(outDir)
		return nil, err
	}

	duration := time.Since(start)
	r.logger.Info("replay decoded",
		zap.String("match_id", matchID),
		zap.String("output", outputPath),
		zap.Int64("bytes", outputBytes),
		zap.Duration("duration", duration))

	return &replay.DecodeSummary{
		MatchID:        matchID,
		DecoderVersion: r.version,
		DecodeDuration: duration,
		OutputPath:     outputPath,
		OutputBytes:    outputBytes,
	}, nil
}

// findOutput locates the decoder's artifact: the newest JSON file in the
// per-job output directory. The directory is created fresh for every
// decode, so anything inside it belongs to this job; filtering against
// the runner's own clock would drop output on filesystems whose mtime
// granularity is coarser than the decode itself.
func findOutput(outDir string) (string, int64, error) {
	candidates, err := filepath.Glob(filepath.Join(outDir, "*.json"))
	if err != nil {
		return "", 0, fmt.Errorf("scanning decode output: %w", err)
	}

	var newestPath string
	var newestMod time.Time
	var newestSize int64
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if newestPath == "" || info.ModTime().After(newestMod) {
			newestPath = candidate
			newestMod = info.ModTime()
			newestSize = info.Size()
		}
	}

	if newestPath == "" {
		return "", 0, fmt.Errorf("%w: decoder exited cleanly but produced no output", replay.ErrDecodeFailed)
	}
	return newestPath, newestSize, nil
}

// capped returns the buffer contents truncated to maxCapturedOutput.
func capped(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if len(s) > maxCapturedOutput {
		return s[:maxCapturedOutput] + "... (truncated)"
	}
	return s
}
