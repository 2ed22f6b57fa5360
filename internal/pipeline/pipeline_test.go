package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mosaicgis/cartographer/internal/catalog"
	"github.com/mosaicgis/cartographer/internal/command"
	"github.com/mosaicgis/cartographer/internal/ledger"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []command.Command
	handler func(command.Command) (RunResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, c command.Command) (RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return f.handler(c)
}

func (f *fakeRunner) commandStrings() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

type fakeCatalog struct {
	mu       sync.Mutex
	updates  [][]any
	affected int64
}

func (f *fakeCatalog) ExecUpdate(ctx context.Context, query string, args ...any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, args)
	return f.affected, nil
}

func (f *fakeCatalog) QueryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	return nil, nil
}

// blockingCatalog hangs every call until its context expires.
type blockingCatalog struct{}

func (blockingCatalog) ExecUpdate(ctx context.Context, query string, args ...any) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (blockingCatalog) QueryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func isDownload(c command.Command) bool {
	return len(c.Args) > 0 && strings.Contains(c.Args[0], "download_data.py")
}

func isUpdate(c command.Command) bool {
	return len(c.Args) > 0 && strings.Contains(c.Args[0], "update_zoning.py")
}

const featureCollection = `{
	"type": "FeatureCollection",
	"features": [{"type": "Feature", "properties": {"OBJECTID": 1, "ZONE": "AG"}, "geometry": null}]
}`

func testEntity() *catalog.Entity {
	return &catalog.Entity{
		Layer: "zoning", State: "fl", County: "alachua", City: "gainesville",
		Format:         catalog.FormatZip,
		SourceURL:      "https://example.com/zoning.zip",
		FieldTransform: "ZONE:zone_code",
		Tracked:        catalog.Metadata{DataDate: "2024-01-15"},
	}
}

func testBuilder() *command.Builder {
	return command.NewBuilder(
		command.WithToolsDir("/srv/tools"),
		command.WithLayerCommands(map[string]string{
			"zoning": "python3 {tools_dir}/update_zoning.py {entity} --date {data_date}",
		}),
	)
}

func newTestPipeline(t *testing.T, runner Runner, opts ...Option) (*Pipeline, string) {
	t.Helper()
	root := t.TempDir()
	builder := testBuilder()
	base := []Option{
		WithRunner(runner),
		WithStages(Stages{Download: true, Metadata: true, Processing: true}),
		WithWorkers(2),
	}
	p := New(nil, builder, root, append(base, opts...)...)
	return p, root
}

func loadRows(t *testing.T, root, layer string) []ledger.Row {
	t.Helper()
	rows, err := ledger.New(root, layer).Load()
	require.NoError(t, err)
	return rows
}

func TestRunAllDownloadNND(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		return RunResult{ExitCode: 1}, nil
	}}
	p, root := newTestPipeline(t, runner)

	stats, err := p.RunAll(context.Background(), []*catalog.Entity{testEntity()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.NoNewData)
	assert.Zero(t, stats.Failed)

	rows := loadRows(t, root, "zoning")
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.StatusNND, rows[0].Download)
	assert.Equal(t, ledger.StatusNone, rows[0].Processing)
	assert.Equal(t, ledger.StatusNone, rows[0].Upload)
	assert.Equal(t, ReasonDownloadNND, rows[0].Error)
	assert.Equal(t, "Alachua", rows[0].County)
	assert.Equal(t, "Gainesville", rows[0].City)

	require.Len(t, runner.calls, 1, "nothing runs after the download NND signal")
}

func TestRunAllDateUnchangedNND(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		if isDownload(c) {
			err := os.WriteFile(filepath.Join(c.Dir, "zoning_20240115.geojson"), []byte(featureCollection), 0o644)
			return RunResult{}, err
		}
		return RunResult{}, nil
	}}
	p, root := newTestPipeline(t, runner)

	stats, err := p.RunAll(context.Background(), []*catalog.Entity{testEntity()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.NoNewData)

	rows := loadRows(t, root, "zoning")
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.StatusNND, rows[0].Download)
	assert.Equal(t, ReasonDateNND, rows[0].Error)
	assert.Equal(t, "2024-01-15", rows[0].DataDate)
}

func TestRunAllProcessAnyway(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		if isDownload(c) {
			err := os.WriteFile(filepath.Join(c.Dir, "zoning_20240115.geojson"), []byte(featureCollection), 0o644)
			return RunResult{}, err
		}
		return RunResult{}, nil
	}}
	p, root := newTestPipeline(t, runner, WithProcessAnyway(true))

	stats, err := p.RunAll(context.Background(), []*catalog.Entity{testEntity()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Zero(t, stats.NoNewData)

	rows := loadRows(t, root, "zoning")
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.StatusSuccess, rows[0].Download)
	assert.Equal(t, ledger.StatusSuccess, rows[0].Processing)
	assert.Equal(t, ledger.StatusNone, rows[0].Upload, "upload stage disabled in this run")

	cmds := runner.commandStrings()
	require.Len(t, cmds, 2)
	assert.Contains(t, cmds[1], "update_zoning.py zoning_fl_alachua_gainesville --date 2024-01-15")
}

func TestRunAllContinueOnFailureDirective(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		switch {
		case isDownload(c):
			err := os.WriteFile(filepath.Join(c.Dir, "zoning_20240301.geojson"), []byte(featureCollection), 0o644)
			return RunResult{}, err
		case c.Program == "rm":
			return RunResult{ExitCode: 2, Output: "rm: optional.tmp missing"}, nil
		}
		return RunResult{}, nil
	}}
	p, root := newTestPipeline(t, runner)

	e := testEntity()
	e.PreProcessing = []catalog.Directive{
		{Raw: "rm -f optional.tmp", ContinueOnFailure: true},
	}

	stats, err := p.RunAll(context.Background(), []*catalog.Entity{e})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Succeeded, "warning directives do not fail the stage")

	rows := loadRows(t, root, "zoning")
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.StatusSuccess, rows[0].Processing)
}

func TestRunAllHardDirectiveFailure(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		switch {
		case isDownload(c):
			err := os.WriteFile(filepath.Join(c.Dir, "zoning_20240301.geojson"), []byte(featureCollection), 0o644)
			return RunResult{}, err
		case c.Program == "unzip":
			return RunResult{ExitCode: 9, Output: "archive corrupt"}, nil
		}
		return RunResult{}, nil
	}}
	p, root := newTestPipeline(t, runner)

	e := testEntity()
	e.PreProcessing = []catalog.Directive{{Raw: "unzip -o inner.zip"}}

	stats, err := p.RunAll(context.Background(), []*catalog.Entity{e})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)

	rows := loadRows(t, root, "zoning")
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.StatusFailed, rows[0].Processing)
	assert.Contains(t, rows[0].Error, "archive corrupt")

	for _, c := range runner.commandStrings() {
		assert.NotContains(t, c, "update_zoning.py", "update never runs after a hard directive failure")
	}
}

func TestRunAllFailureIsEntityLocal(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		if isDownload(c) {
			if strings.Contains(c.Args[1], "broken") {
				return RunResult{ExitCode: 2, Output: "connection refused"}, nil
			}
			err := os.WriteFile(filepath.Join(c.Dir, "zoning_20240301.geojson"), []byte(featureCollection), 0o644)
			return RunResult{}, err
		}
		return RunResult{}, nil
	}}
	p, root := newTestPipeline(t, runner)

	healthy := testEntity()
	broken := testEntity()
	broken.City = "hawthorne"
	broken.SourceURL = "https://example.com/broken.zip"

	stats, err := p.RunAll(context.Background(), []*catalog.Entity{broken, healthy})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Failed)

	rows := loadRows(t, root, "zoning")
	require.Len(t, rows, 2)
	assert.Equal(t, "Gainesville", rows[0].City)
	assert.Equal(t, ledger.StatusSuccess, rows[0].Download)
	assert.Equal(t, "Hawthorne", rows[1].City)
	assert.Equal(t, ledger.StatusFailed, rows[1].Download)
	assert.Contains(t, rows[1].Error, "connection refused")
}

func TestRunAllSkipList(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		t.Error("no commands should run for skipped entities")
		return RunResult{}, nil
	}}
	p, root := newTestPipeline(t, runner,
		WithSkipList([]string{"zoning_fl_alachua_gainesville"}))

	stats, err := p.RunAll(context.Background(), []*catalog.Entity{testEntity()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Skipped)

	rows := loadRows(t, root, "zoning")
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.StatusSkipped, rows[0].Download)
	assert.Equal(t, "on skip list", rows[0].Error)
}

func TestRunAllMergesIntoExistingLedger(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		return RunResult{ExitCode: 1}, nil
	}}
	p, root := newTestPipeline(t, runner)

	require.NoError(t, ledger.New(root, "zoning").Apply([]ledger.Row{
		{County: "Duval", City: "Jacksonville", DataDate: "2024-02-01",
			Download: ledger.StatusSuccess, Processing: ledger.StatusSuccess},
	}))

	_, err := p.RunAll(context.Background(), []*catalog.Entity{testEntity()})
	require.NoError(t, err)

	rows := loadRows(t, root, "zoning")
	require.Len(t, rows, 2, "untouched rows survive a filtered run")
	assert.Equal(t, "Gainesville", rows[0].City)
	assert.Equal(t, "Jacksonville", rows[1].City)
	assert.Equal(t, ledger.StatusSuccess, rows[1].Download)
}

func TestRunAllCancelledBeforeStart(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		t.Error("no commands should run after cancellation")
		return RunResult{}, nil
	}}
	p, root := newTestPipeline(t, runner)

	require.NoError(t, ledger.New(root, "zoning").Apply([]ledger.Row{
		{County: "Alachua", City: "Gainesville", DataDate: "2024-01-15",
			Download: ledger.StatusSuccess, Processing: ledger.StatusSuccess},
		{County: "Alachua", City: "Hawthorne", DataDate: "2024-01-15",
			Download: ledger.StatusSuccess, Processing: ledger.StatusSuccess},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	other := testEntity()
	other.City = "hawthorne"
	_, err := p.RunAll(ctx, []*catalog.Entity{testEntity(), other})
	assert.ErrorIs(t, err, context.Canceled)

	rows := loadRows(t, root, "zoning")
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, ledger.StatusSuccess, row.Download,
			"%s never started; its row must stay untouched", row.City)
		assert.Empty(t, row.Error)
	}
}

func TestRunAllNNDRefreshesPublishDate(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		return RunResult{ExitCode: 1}, nil
	}}
	store := &fakeCatalog{affected: 1}
	root := t.TempDir()
	p := New(store, testBuilder(), root,
		WithRunner(runner),
		WithStages(AllStages()))

	e := testEntity()
	stats, err := p.RunAll(context.Background(), []*catalog.Entity{e})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.NoNewData)

	today := time.Now().Format(DataDateLayout)
	require.Len(t, store.updates, 1, "a no-new-data run still stamps publish_date")
	assert.Equal(t, today, store.updates[0][0])
	assert.Equal(t, today, e.Tracked.PublishDate)
	assert.Equal(t, "2024-01-15", e.Tracked.DataDate, "tracked metadata is otherwise untouched")

	rows := loadRows(t, root, "zoning")
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.StatusNND, rows[0].Download)
}

func TestRunAllProcessingSkipReasonRecorded(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		if isDownload(c) {
			err := os.WriteFile(filepath.Join(c.Dir, "zoning_20240301.geojson"), []byte(featureCollection), 0o644)
			return RunResult{}, err
		}
		return RunResult{}, nil
	}}
	p, root := newTestPipeline(t, runner)

	e := testEntity()
	e.FieldTransform = ""

	stats, err := p.RunAll(context.Background(), []*catalog.Entity{e})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Succeeded)

	rows := loadRows(t, root, "zoning")
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.StatusSuccess, rows[0].Download)
	assert.Equal(t, ledger.StatusNone, rows[0].Processing)
	assert.Equal(t, "no processing configured", rows[0].Error)
}

func TestRunUploadBoundedTimeout(t *testing.T) {
	p := New(blockingCatalog{}, testBuilder(), t.TempDir(),
		WithSQLTimeout(25*time.Millisecond))

	out := p.runUpload(context.Background(), zap.NewNop(), testEntity(),
		catalog.Metadata{DataDate: "2024-03-01"})
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestRunAllZipHandling(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		switch {
		case isDownload(c):
			err := os.WriteFile(filepath.Join(c.Dir, "zoning_20240301.zip"), []byte("PK\x03\x04stub"), 0o644)
			return RunResult{}, err
		case c.Program == "unzip":
			err := os.WriteFile(filepath.Join(c.Dir, "zoning_20240301.geojson"), []byte(featureCollection), 0o644)
			return RunResult{}, err
		}
		return RunResult{}, nil
	}}
	p, root := newTestPipeline(t, runner)

	stats, err := p.RunAll(context.Background(), []*catalog.Entity{testEntity()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Succeeded)

	cmds := runner.commandStrings()
	require.GreaterOrEqual(t, len(cmds), 2)
	assert.Equal(t, "unzip -o zoning_20240301.zip", cmds[1])

	rows := loadRows(t, root, "zoning")
	assert.Equal(t, "2024-03-01", rows[0].DataDate)
}

func TestRunAllHTMLMasquerade(t *testing.T) {
	runner := &fakeRunner{handler: func(c command.Command) (RunResult, error) {
		if isDownload(c) {
			page := `<!DOCTYPE html><html><head><title>404 Not Found</title></head><body></body></html>`
			err := os.WriteFile(filepath.Join(c.Dir, "zoning.zip"), []byte(page), 0o644)
			return RunResult{}, err
		}
		return RunResult{}, nil
	}}
	p, root := newTestPipeline(t, runner)

	stats, err := p.RunAll(context.Background(), []*catalog.Entity{testEntity()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)

	rows := loadRows(t, root, "zoning")
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.StatusFailed, rows[0].Download)
	assert.Contains(t, rows[0].Error, "404 Not Found")
}
