package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/mosaicgis/cartographer/internal/catalog"
	"github.com/mosaicgis/cartographer/internal/reconcile"
)

// runMetadata extracts dataset metadata from the work directory and raises
// the second no-new-data signal when the extracted data date matches what
// the catalog already records. Extraction gaps fall back to the catalog's
// tracked values so a partial read never erases known-good columns.
func (p *Pipeline) runMetadata(log *zap.Logger, e *catalog.Entity, workDir, rawZip string) Outcome {
	fresh, err := ExtractMetadata(workDir, e.Format, time.Now())
	if err != nil {
		return failed(StageMetadata, err)
	}
	if rawZip != "" {
		fresh.RawZip = rawZip
	}

	md := reconcile.Merge(e.Tracked, fresh, catalog.Metadata{})

	if dateUnchanged(fresh.DataDate, e.Tracked.DataDate) {
		if !p.processAnyway {
			out := noNewData(StageMetadata, ReasonDateNND)
			out.Metadata = md
			return out
		}
		log.Info("data date unchanged, continuing on override",
			zap.String("data_date", fresh.DataDate))
	}

	log.Debug("metadata extracted",
		zap.String("data_date", md.DataDate),
		zap.String("epsg", md.EPSG),
		zap.String("primary_file", md.PrimaryFile),
		zap.Int("field_count", len(md.FieldNames)))

	out := success(StageMetadata)
	out.Metadata = md
	return out
}

// dateUnchanged fires only when extraction produced a real date that equals
// the recorded one. A blank on either side is inconclusive and the pipeline
// proceeds.
func dateUnchanged(fresh, recorded string) bool {
	return fresh != "" && recorded != "" && fresh == recorded
}
