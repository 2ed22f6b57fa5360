package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mosaicgis/cartographer/internal/catalog"
)

// runProcessing runs the entity's pre-processing directives and the layer's
// update command. Directives flagged continue-on-failure degrade to warnings;
// anything else that exits non-zero fails the stage.
func (p *Pipeline) runProcessing(ctx context.Context, log *zap.Logger, e *catalog.Entity, workDir, dataDate string) Outcome {
	cmds, err := p.builder.Processing(e, workDir, dataDate, p.rules.For(e.ID()))
	if err != nil {
		return failed(StageProcessing, err)
	}
	if len(cmds) == 0 {
		return skipped(StageProcessing, "no processing configured")
	}

	for _, cmd := range cmds {
		res, err := p.runner.Run(ctx, cmd)
		if err != nil {
			return failed(StageProcessing, err)
		}
		if res.ExitCode == 0 {
			continue
		}
		if cmd.ContinueOnFailure {
			log.Warn("pre-processing command failed, continuing",
				zap.String("command", cmd.String()),
				zap.Int("exit_code", res.ExitCode),
				zap.String("output", res.Output))
			continue
		}
		return failed(StageProcessing,
			fmt.Errorf("%s exited %d: %s", cmd.String(), res.ExitCode, res.Output))
	}
	return success(StageProcessing)
}
