// Package worker executes one per-pair comparison with the external ANI tool.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/metrics"
	"github.com/gtdb/ani-engine/pkg/models"
	"github.com/gtdb/ani-engine/pkg/params"
)

// maxCapturedStream bounds the stdout/stderr kept per attempt.
const maxCapturedStream = 64 * 1024

// MirrorLocator resolves a mirrored genome to a local FASTA path.
type MirrorLocator interface {
	Locate(ctx context.Context, entry *models.MirrorEntry) (string, error)
}

// UploadLoader returns the decompressed FASTA of a user upload.
type UploadLoader interface {
	LoadUpload(ctx context.Context, uploadID int64) ([]byte, error)
}

// Runner runs per-pair tasks against the configured tool binaries.
type Runner struct {
	programs map[string]string
	mirror   MirrorLocator
	uploads  UploadLoader
	scratch  string
	logger   *zap.Logger
}

// NewRunner creates a Runner. programs maps tool versions to binaries;
// scratchDir holds per-attempt working directories ("" uses the OS default).
func NewRunner(programs map[string]string, mirror MirrorLocator, uploads UploadLoader, scratchDir string, logger *zap.Logger) *Runner {
	return &Runner{
		programs: programs,
		mirror:   mirror,
		uploads:  uploads,
		scratch:  scratchDir,
		logger:   logger.Named("ani-worker"),
	}
}

// Run executes one attempt of task. ctx carries the per-pair deadline.
// Any failure, including a deadline, is reported through PairOutcome.Err.
func (r *Runner) Run(ctx context.Context, task models.PairTask) models.PairOutcome {
	start := time.Now()
	out := r.run(ctx, task)
	out.Duration = time.Since(start)

	family := string(task.Version.Family())
	result := "ok"
	if out.Failed() {
		result = "failed"
		r.logger.Warn("Pair attempt failed",
			zap.Int64("pair_id", task.PairID),
			zap.Int("attempt", task.Attempt),
			zap.String("query", task.Query.Name),
			zap.String("reference", task.Ref.Name),
			zap.Int("exit_code", out.ExitCode),
			zap.Error(out.Err))
	} else {
		r.logger.Debug("Pair attempt succeeded",
			zap.Int64("pair_id", task.PairID),
			zap.Duration("duration", out.Duration))
	}
	metrics.PairRuns.WithLabelValues(family, result).Inc()
	metrics.PairDuration.WithLabelValues(family).Observe(out.Duration.Seconds())
	return out
}

func (r *Runner) run(ctx context.Context, task models.PairTask) models.PairOutcome {
	binary, ok := r.programs[string(task.Version)]
	if !ok {
		return models.PairOutcome{Err: fmt.Errorf("no program configured for %s", task.Version)}
	}

	p, err := params.Decode(task.Version, task.Params)
	if err != nil {
		return models.PairOutcome{Err: err}
	}

	dir, err := os.MkdirTemp(r.scratch, "ani-pair-*")
	if err != nil {
		return models.PairOutcome{Err: fmt.Errorf("failed to create scratch directory: %w", err)}
	}
	defer os.RemoveAll(dir)

	queryPath, err := r.materialise(ctx, dir, "query", task.Query)
	if err != nil {
		return models.PairOutcome{Err: err}
	}
	refPath, err := r.materialise(ctx, dir, "reference", task.Ref)
	if err != nil {
		return models.PairOutcome{Err: err}
	}
	outputPath := filepath.Join(dir, "result.tsv")

	args, err := params.Args(p, queryPath, refPath, outputPath)
	if err != nil {
		return models.PairOutcome{Err: err}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	runErr := cmd.Run()
	outcome := models.PairOutcome{
		Stdout: truncate(stdout.String()),
		Stderr: truncate(stderr.String()),
	}
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			outcome.Err = fmt.Errorf("%s timed out", task.Version)
		} else {
			outcome.Err = ctxErr
		}
		return outcome
	}
	if runErr != nil {
		outcome.Err = fmt.Errorf("%s failed: %w", task.Version, runErr)
		return outcome
	}

	f, err := os.Open(outputPath)
	if errors.Is(err, os.ErrNotExist) {
		// No output file means nothing passed the reporting threshold.
		return outcome
	}
	if err != nil {
		outcome.Err = fmt.Errorf("failed to open tool output: %w", err)
		return outcome
	}
	defer f.Close()

	cmp, err := ParseOutput(task.Version.Family(), f)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Values = cmp.Values()
	return outcome
}

// materialise returns a FASTA path for a genome: the mirror file, or the
// upload payload written into dir.
func (r *Runner) materialise(ctx context.Context, dir, role string, g models.GenomeRef) (string, error) {
	if g.Mirror != nil {
		path, err := r.mirror.Locate(ctx, g.Mirror)
		if err != nil {
			return "", fmt.Errorf("failed to locate %s genome %s: %w", role, g.Name, err)
		}
		return path, nil
	}
	if g.UploadID == nil {
		return "", fmt.Errorf("%s genome %d has no source", role, g.ID)
	}

	content, err := r.uploads.LoadUpload(ctx, *g.UploadID)
	if err != nil {
		return "", fmt.Errorf("failed to load %s upload %s: %w", role, g.Name, err)
	}
	path := filepath.Join(dir, role+".fna")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s genome: %w", role, err)
	}
	return path, nil
}

func truncate(s string) string {
	if len(s) <= maxCapturedStream {
		return s
	}
	return s[len(s)-maxCapturedStream:]
}
