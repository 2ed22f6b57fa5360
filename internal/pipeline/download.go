package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/mosaicgis/cartographer/internal/catalog"
)

// The download tool signals no-new-data with exit code 1. Some sources also
// print a phrase while exiting 0, so both are honored.
const nndExitCode = 1

var nndPhrases = []string{
	"no new data",
	"data is current",
	"already up to date",
}

// runDownload fetches the entity's source into its work directory and
// validates what arrived. Exit code 1 is the no-new-data protocol, not a
// failure.
func (p *Pipeline) runDownload(ctx context.Context, log *zap.Logger, e *catalog.Entity, workDir string) Outcome {
	cmd, err := p.builder.Download(e, workDir)
	if err != nil {
		return failed(StageDownload, err)
	}

	before := snapshotDir(workDir)
	res, err := p.runner.Run(ctx, *cmd)
	if err != nil {
		return failed(StageDownload, err)
	}

	if res.ExitCode == nndExitCode || containsNNDPhrase(res.Output) {
		if !p.processAnyway {
			return noNewData(StageDownload, ReasonDownloadNND)
		}
		log.Info("download reported no new data, continuing on override")
	} else if res.ExitCode != 0 {
		return failed(StageDownload, fmt.Errorf("download exited %d: %s", res.ExitCode, res.Output))
	}

	changed := changedFiles(before, snapshotDir(workDir))
	if len(changed) == 0 && len(before) == 0 {
		return failed(StageDownload, fmt.Errorf("download succeeded but produced no files"))
	}

	if err := validateDownloads(workDir, changed); err != nil {
		return failed(StageDownload, err)
	}
	if e.Format.Family() == catalog.FamilyAGS {
		if err := validateAGSExtract(workDir); err != nil {
			return failed(StageDownload, err)
		}
	}

	out := success(StageDownload)
	if zipName := newestZip(workDir, changed); zipName != "" {
		unzip := p.builder.Unzip(zipName, workDir)
		res, err := p.runner.Run(ctx, unzip)
		if err != nil {
			return failed(StageDownload, err)
		}
		if res.ExitCode != 0 {
			return failed(StageDownload, fmt.Errorf("unzip %s exited %d: %s", zipName, res.ExitCode, res.Output))
		}
		out.RawZip = zipName
	}
	return out
}

func containsNNDPhrase(output string) bool {
	lower := strings.ToLower(output)
	for _, phrase := range nndPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func snapshotDir(dir string) map[string]time.Time {
	snap := make(map[string]time.Time)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return snap
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snap[entry.Name()] = info.ModTime()
	}
	return snap
}

func changedFiles(before, after map[string]time.Time) []string {
	var changed []string
	for name, mtime := range after {
		if prev, ok := before[name]; !ok || mtime.After(prev) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// validateDownloads catches servers that answer a data request with an HTML
// error page while keeping the requested filename. The page title usually
// names the actual problem, so it is pulled into the error.
func validateDownloads(workDir string, names []string) error {
	for _, name := range names {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".zip", ".shp", ".dbf", ".geojson", ".json", ".pdf":
		default:
			continue
		}
		head, err := readHead(filepath.Join(workDir, name), 2048)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", name, err)
		}
		trimmed := strings.TrimSpace(strings.ToLower(string(head)))
		if !strings.HasPrefix(trimmed, "<!doctype html") && !strings.HasPrefix(trimmed, "<html") {
			continue
		}

		detail := "server returned an HTML page instead of data"
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(head))); err == nil {
			if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
				detail = fmt.Sprintf("server returned an HTML page: %q", title)
			}
		}
		return fmt.Errorf("%s: %s", name, detail)
	}
	return nil
}

// validateAGSExtract checks the newest extracted GeoJSON is a feature
// collection with at least one feature. An empty collection usually means
// the service answered but the layer query matched nothing.
func validateAGSExtract(workDir string) error {
	name := newestByExt(workDir, ".geojson")
	if name == "" {
		return fmt.Errorf("no GeoJSON produced by extraction")
	}
	head, err := readHead(filepath.Join(workDir, name), 64*1024)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", name, err)
	}

	var doc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	// Only the head is read; large files fail the strict decode but still
	// reveal type and a first feature.
	if err := json.Unmarshal(head, &doc); err != nil {
		doc.Type, doc.Features = sniffFeatureCollection(head)
	}
	if doc.Type != "FeatureCollection" {
		return fmt.Errorf("%s is not a feature collection", name)
	}
	if len(doc.Features) == 0 {
		return fmt.Errorf("%s has no features", name)
	}
	return nil
}

func sniffFeatureCollection(head []byte) (string, []json.RawMessage) {
	s := string(head)
	if !strings.Contains(s, `"FeatureCollection"`) {
		return "", nil
	}
	if idx := strings.Index(s, `"features"`); idx >= 0 {
		rest := strings.TrimLeft(s[idx+len(`"features"`):], " \t\r\n:")
		if strings.HasPrefix(rest, "[") && strings.TrimLeft(rest[1:], " \t\r\n") != "" &&
			!strings.HasPrefix(strings.TrimLeft(rest[1:], " \t\r\n"), "]") {
			return "FeatureCollection", []json.RawMessage{json.RawMessage("{}")}
		}
	}
	return "FeatureCollection", nil
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && read == 0 {
		return nil, err
	}
	return buf[:read], nil
}

func newestZip(dir string, changed []string) string {
	zips := filterExt(changed, ".zip")
	if len(zips) == 0 {
		return ""
	}
	return newestOf(dir, zips)
}

func newestByExt(dir string, ext string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			names = append(names, entry.Name())
		}
	}
	return newestOf(dir, names)
}

func newestOf(dir string, names []string) string {
	var (
		newest string
		mtime  time.Time
	)
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(mtime) {
			newest, mtime = name, info.ModTime()
		}
	}
	return newest
}

func filterExt(names []string, ext string) []string {
	var out []string
	for _, name := range names {
		if strings.EqualFold(filepath.Ext(name), ext) {
			out = append(out, name)
		}
	}
	return out
}
