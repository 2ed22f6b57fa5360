package pipeline

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mosaicgis/cartographer/internal/catalog"
)

// DataDateLayout is the canonical data_date representation.
const DataDateLayout = "2006-01-02"

// ExtractMetadata pulls whatever the downloaded files reveal about the
// dataset: vintage date, projection, attribute names, and the primary file.
// Fields that cannot be determined are left empty; a wrong guess is worse
// than a blank the catalog already covers.
func ExtractMetadata(workDir string, format catalog.Format, now time.Time) (catalog.Metadata, error) {
	var md catalog.Metadata

	switch format.Family() {
	case catalog.FamilyAGS:
		name := newestByExt(workDir, ".geojson")
		if name == "" {
			return md, fmt.Errorf("no GeoJSON to extract metadata from")
		}
		md.PrimaryFile = name
		md.FieldNames = geojsonFields(filepath.Join(workDir, name))
		md.DataDate = fileDataDate(workDir, name, now)

	case catalog.FamilyDirect:
		if shp := newestByExt(workDir, ".shp"); shp != "" {
			md.PrimaryFile = shp
			base := strings.TrimSuffix(shp, filepath.Ext(shp))
			if date, fields := dbfHeader(filepath.Join(workDir, base+".dbf")); date != "" || fields != nil {
				md.DataDate = clampDate(date, now)
				md.FieldNames = fields
			}
			md.EPSG = prjEPSG(filepath.Join(workDir, base+".prj"))
			if md.DataDate == "" {
				md.DataDate = fileDataDate(workDir, shp, now)
			}
		} else if gj := newestByExt(workDir, ".geojson"); gj != "" {
			md.PrimaryFile = gj
			md.FieldNames = geojsonFields(filepath.Join(workDir, gj))
			md.DataDate = fileDataDate(workDir, gj, now)
		}

	case catalog.FamilyMetadataOnly:
		// Only the filename is trusted for documents.
		if pdf := newestByExt(workDir, ".pdf"); pdf != "" {
			md.PrimaryFile = pdf
			md.DataDate = clampDate(filenameDate(pdf), now)
		}
	}
	return md, nil
}

// fileDataDate prefers a date embedded in the filename and falls back to the
// file's modification time.
func fileDataDate(workDir, name string, now time.Time) string {
	if date := clampDate(filenameDate(name), now); date != "" {
		return date
	}
	info, err := os.Stat(filepath.Join(workDir, name))
	if err != nil {
		return ""
	}
	return clampDate(info.ModTime().Format(DataDateLayout), now)
}

var (
	isoDateRe = regexp.MustCompile(`(20\d{2})[-_.]?(\d{2})[-_.]?(\d{2})`)
	usDateRe  = regexp.MustCompile(`(\d{2})[-_.]?(\d{2})[-_.]?(20\d{2})`)
)

// filenameDate recognizes YYYYMMDD and MMDDYYYY shapes with optional
// separators, validating that the result is a real calendar date.
func filenameDate(name string) string {
	if m := isoDateRe.FindStringSubmatch(name); m != nil {
		if date := validDate(m[1], m[2], m[3]); date != "" {
			return date
		}
	}
	if m := usDateRe.FindStringSubmatch(name); m != nil {
		if date := validDate(m[3], m[1], m[2]); date != "" {
			return date
		}
	}
	return ""
}

func validDate(year, month, day string) string {
	t, err := time.Parse(DataDateLayout, fmt.Sprintf("%s-%s-%s", year, month, day))
	if err != nil {
		return ""
	}
	return t.Format(DataDateLayout)
}

// clampDate caps a date at today. Sources occasionally stamp files with
// scheduled future publication dates, which would wedge the unchanged-date
// check forever.
func clampDate(date string, now time.Time) string {
	if date == "" {
		return ""
	}
	t, err := time.Parse(DataDateLayout, date)
	if err != nil {
		return ""
	}
	if today := now.Truncate(24 * time.Hour); t.After(today) {
		return now.Format(DataDateLayout)
	}
	return date
}

// geojsonFields returns the property names of the first feature, in document
// order as best JSON decoding preserves it.
func geojsonFields(path string) []string {
	head, err := readHead(path, 256*1024)
	if err != nil {
		return nil
	}
	idx := strings.Index(string(head), `"properties"`)
	if idx < 0 {
		return nil
	}
	rest := strings.TrimLeft(string(head)[idx+len(`"properties"`):], " \t\r\n:")
	if !strings.HasPrefix(rest, "{") {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(rest))
	if _, err := dec.Token(); err != nil {
		return nil
	}
	var fields []string
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch v := tok.(type) {
		case json.Delim:
			switch v {
			case '{', '[':
				depth++
			case '}', ']':
				if depth == 0 {
					return fields
				}
				depth--
			}
		case string:
			if depth == 0 {
				fields = append(fields, v)
				// Skip the value so nested keys are not mistaken for
				// property names.
				var discard json.RawMessage
				if err := dec.Decode(&discard); err != nil {
					return fields
				}
			}
		}
	}
	return fields
}

// dbfHeader reads the last-update date and field descriptors from a dBASE
// header. The date lives in bytes 1..3 as (year-1900, month, day);
// descriptors are 32-byte records from offset 32 until the 0x0D terminator.
func dbfHeader(path string) (string, []string) {
	bs, err := readHead(path, 32+32*255+1)
	if err != nil || len(bs) < 32 {
		return "", nil
	}

	var date string
	year := 1900 + int(bs[1])
	month, day := int(bs[2]), int(bs[3])
	if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
		date = fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	}

	headerSize := int(binary.LittleEndian.Uint16(bs[8:10]))
	var fields []string
	for off := 32; off+32 <= len(bs) && off < headerSize; off += 32 {
		if bs[off] == 0x0D {
			break
		}
		name := bs[off : off+11]
		if i := strings.IndexByte(string(name), 0); i >= 0 {
			name = name[:i]
		}
		if n := strings.TrimSpace(string(name)); n != "" {
			fields = append(fields, n)
		}
	}
	return date, fields
}

// prjEPSG maps the projected/geographic coordinate system name in a .prj
// WKT to its EPSG code. Covers the systems Florida sources actually ship.
var wktEPSG = map[string]string{
	"GCS_WGS_1984":                              "4326",
	"GCS_North_American_1983":                   "4269",
	"WGS_1984_Web_Mercator_Auxiliary_Sphere":    "3857",
	"NAD_1983_StatePlane_Florida_East_FIPS_0901_Feet":       "2236",
	"NAD_1983_StatePlane_Florida_West_FIPS_0902_Feet":       "2237",
	"NAD_1983_StatePlane_Florida_North_FIPS_0903_Feet":      "2238",
	"NAD_1983_HARN_StatePlane_Florida_East_FIPS_0901_Feet":  "2881",
	"NAD_1983_HARN_StatePlane_Florida_West_FIPS_0902_Feet":  "2882",
	"NAD_1983_HARN_StatePlane_Florida_North_FIPS_0903_Feet": "2883",
	"NAD_1983_2011_StatePlane_Florida_East_FIPS_0901_Ft_US": "6438",
	"NAD_1983_2011_StatePlane_Florida_West_FIPS_0902_Ft_US": "6443",
}

var wktNameRe = regexp.MustCompile(`^\s*(?:PROJCS|GEOGCS)\[\s*"([^"]+)"`)

func prjEPSG(path string) string {
	bs, err := readHead(path, 4096)
	if err != nil {
		return ""
	}
	m := wktNameRe.FindStringSubmatch(string(bs))
	if m == nil {
		return ""
	}
	return wktEPSG[m[1]]
}
