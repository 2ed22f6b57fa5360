package command

import (
	"fmt"
	"path/filepath"

	"github.com/mosaicgis/cartographer/internal/catalog"
)

type BuilderOption func(*Builder)

func WithToolsDir(dir string) BuilderOption {
	return func(b *Builder) {
		b.toolsDir = dir
	}
}

// WithLayerCommands sets the per-layer update command templates. Templates
// may reference {tools_dir}, {layer}, {entity}, {state}, {county}, {city},
// {data_date} and {work_dir}.
func WithLayerCommands(commands map[string]string) BuilderOption {
	return func(b *Builder) {
		b.layerCommands = commands
	}
}

func WithCatalogTable(table string) BuilderOption {
	return func(b *Builder) {
		b.table = table
	}
}

// Builder maps a catalog entity and stage to the concrete command(s) to run.
type Builder struct {
	toolsDir      string
	layerCommands map[string]string
	table         string
}

func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		toolsDir: "/srv/tools",
		table:    catalog.DefaultTable,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AGS extractions reuse the shared tool defaults: purge previous output and
// page features 15 at a time.
const (
	agsExtractTool = "ags_extract_data2.py"
	downloadTool   = "download_data.py"
)

// Download builds the fetch invocation for an entity. AGS-family formats go
// through the ArcGIS extraction tool keyed by table name; everything else
// through the direct downloader keyed by URL/resource.
func (b *Builder) Download(e *catalog.Entity, workDir string) (*Command, error) {
	switch e.Format.Family() {
	case catalog.FamilyAGS:
		if e.TableName == "" {
			return nil, fmt.Errorf("entity %s: missing table name for AGS download", e.ID())
		}
		return &Command{
			Program: "python3",
			Args:    []string{filepath.Join(b.toolsDir, agsExtractTool), e.TableName, "delete", "15"},
			Dir:     workDir,
		}, nil
	case catalog.FamilyDirect, catalog.FamilyMetadataOnly:
		src := e.SourceIdentifier()
		if src == "" {
			return nil, fmt.Errorf("entity %s: missing source URL/resource for download", e.ID())
		}
		return &Command{
			Program: "python3",
			Args:    []string{filepath.Join(b.toolsDir, downloadTool), src},
			Dir:     workDir,
		}, nil
	}
	return nil, fmt.Errorf("entity %s: unknown format %q", e.ID(), e.Format)
}

// Processing builds the ordered command list for the processing stage:
// pre-processing directives, the per-layer update command with the entity
// discriminator, then any post-processing directives. Returns nil (stage
// no-op) for metadata-only formats,
// entities without a field transform, and layers with no update command.
func (b *Builder) Processing(e *catalog.Entity, workDir, dataDate string, extra []catalog.Directive) ([]Command, error) {
	if e.Format.Family() == catalog.FamilyMetadataOnly {
		return nil, nil
	}
	if e.FieldTransform == "" {
		return nil, nil
	}
	template, ok := b.layerCommands[e.Layer]
	if !ok || template == "" {
		return nil, nil
	}

	var cmds []Command
	directives := append(append([]catalog.Directive{}, extra...), e.PreProcessing...)
	for _, d := range directives {
		argv := Split(d.Raw)
		if len(argv) == 0 {
			continue
		}
		cmds = append(cmds, Command{
			Program:           argv[0],
			Args:              argv[1:],
			Dir:               workDir,
			ContinueOnFailure: d.ContinueOnFailure,
		})
	}

	expanded, err := Expand(template, map[string]string{
		"tools_dir": b.toolsDir,
		"layer":     e.Layer,
		"entity":    e.ID(),
		"state":     e.State,
		"county":    e.County,
		"city":      e.City,
		"data_date": dataDate,
		"work_dir":  workDir,
	})
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", e.Layer, err)
	}
	argv := Split(expanded)
	if len(argv) == 0 {
		return nil, fmt.Errorf("layer %s: empty update command", e.Layer)
	}
	cmds = append(cmds, Command{Program: argv[0], Args: argv[1:], Dir: workDir})

	for _, d := range e.PostProcessing {
		argv := Split(d.Raw)
		if len(argv) == 0 {
			continue
		}
		cmds = append(cmds, Command{
			Program:           argv[0],
			Args:              argv[1:],
			Dir:               workDir,
			ContinueOnFailure: d.ContinueOnFailure,
		})
	}
	return cmds, nil
}

// Unzip builds the archive extraction invocation for a downloaded zip.
func (b *Builder) Unzip(zipName, workDir string) Command {
	return Command{Program: "unzip", Args: []string{"-o", zipName}, Dir: workDir}
}
