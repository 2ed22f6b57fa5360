package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mosaicgis/cartographer/internal/catalog"
)

// runUpload writes the extracted metadata back to the catalog row. When the
// UPDATE reports zero rows the row is re-read: a row that already holds the
// intended values counts as success, anything else is a real failure.
func (p *Pipeline) runUpload(ctx context.Context, log *zap.Logger, e *catalog.Entity, md catalog.Metadata) Outcome {
	publishDate := time.Now().Format(DataDateLayout)
	stmt := p.builder.Upload(e, md, publishDate)
	if err := stmt.Validate(); err != nil {
		return failed(StageUpload, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.sqlTimeout)
	defer cancel()

	affected, err := p.store.ExecUpdate(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		return failed(StageUpload, err)
	}

	if affected == 0 {
		current, err := p.store.QueryStrings(ctx, stmt.VerifyQuery, stmt.VerifyArgs...)
		if err != nil {
			return failed(StageUpload, err)
		}
		if current == nil {
			return failed(StageUpload, fmt.Errorf("catalog update matched no row for %s", e.ID()))
		}
		if !valuesMatch(stmt.Expected, current) {
			return failed(StageUpload, fmt.Errorf("catalog row for %s exists but holds different values", e.ID()))
		}
		log.Debug("catalog row already current", zap.String("entity", e.ID()))
	}

	md.PublishDate = publishDate
	e.Tracked = md
	return success(StageUpload)
}

// touchPublishDate stamps publish_date on a no-new-data run so the catalog
// records that the source was checked today. Failures degrade to warnings;
// the no-new-data outcome stands.
func (p *Pipeline) touchPublishDate(ctx context.Context, log *zap.Logger, e *catalog.Entity) {
	publishDate := time.Now().Format(DataDateLayout)
	stmt := p.builder.Upload(e, catalog.Metadata{}, publishDate)
	if err := stmt.Validate(); err != nil {
		log.Warn("publish date refresh failed", zap.String("entity", e.ID()), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.sqlTimeout)
	defer cancel()

	if _, err := p.store.ExecUpdate(ctx, stmt.Query, stmt.Args...); err != nil {
		log.Warn("publish date refresh failed", zap.String("entity", e.ID()), zap.Error(err))
		return
	}
	e.Tracked.PublishDate = publishDate
}

func valuesMatch(expected, current []string) bool {
	if len(expected) != len(current) {
		return false
	}
	for i := range expected {
		// publish_date is set on every run and is allowed to differ.
		if i == 0 {
			continue
		}
		if expected[i] != current[i] {
			return false
		}
	}
	return true
}
