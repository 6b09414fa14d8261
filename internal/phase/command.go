package phase

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mkessler/anvil/internal/models"
)

// CommandAction spawns an external process and streams its output
// through the classifier.
type CommandAction struct{}

// Execute runs the resolved argv. Stdout and stderr are drained on
// separate goroutines so neither pipe can fill up and deadlock the
// process. The process is killed when ctx is cancelled.
func (a *CommandAction) Execute(ctx context.Context, phase *ResolvedPhase, out *Output) Outcome {
	return runProcess(ctx, phase.Command, phase.WorkingDir, phase.Config.DisplayName(), out)
}

// runProcess is the shared process supervisor used by command, solution
// and static analysis phases. It returns once the process has exited
// and both streams are fully drained.
func runProcess(ctx context.Context, argv []string, dir, phaseName string, out *Output) Outcome {
	if len(argv) == 0 {
		return failure(out, phaseName, errors.New("empty command"))
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failure(out, phaseName, fmt.Errorf("failed to open stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return failure(out, phaseName, fmt.Errorf("failed to open stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return failure(out, phaseName, fmt.Errorf("failed to start %s: %w", argv[0], err))
	}

	// Drain both pipes concurrently. Each stream keeps its own internal
	// line order; interleaving between the two is not defined.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		out.Stream(stdout)
	}()
	go func() {
		defer wg.Done()
		out.Stream(stderr)
	}()
	wg.Wait()

	err = cmd.Wait()

	if ctx.Err() != nil {
		return Outcome{Status: models.StatusCancelled, Err: ctx.Err()}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			out.Annotate(models.Annotation{
				Kind:    models.KindError,
				Message: fmt.Sprintf("%s exited with code %d", argv[0], code),
				Phase:   phaseName,
			})
			return Outcome{Status: models.StatusFailed, ExitCode: code, Err: err}
		}
		return failure(out, phaseName, err)
	}

	return Outcome{Status: models.StatusSucceeded}
}

// failure records an execution error as an annotation and returns a
// failed outcome.
func failure(out *Output, phaseName string, err error) Outcome {
	out.Annotate(models.Annotation{
		Kind:    models.KindError,
		Message: err.Error(),
		Phase:   phaseName,
	})
	return Outcome{Status: models.StatusFailed, ExitCode: -1, Err: err}
}
