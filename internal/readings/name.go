package readings

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Record is one row read back from an artifact.
type Record struct {
	HostTime    float64
	Raw         string
	Filtered    float64
	HasFiltered bool
}

var nameRe = regexp.MustCompile(`^\d+_(\d+(?:p\d+)?)cm_(\d+(?:p\d+)?)mps_grip_data(?:_\d+)?\.csv$`)

// FileBase returns the artifact base name (no extension) for a run started
// at t: <unix_ts>_<distance>cm_<speed>mps_grip_data, decimal points written
// as "p". Speed always carries a fraction (1 -> 1p0).
func FileBase(t time.Time, distanceCM, speedMPS float64) string {
	dist := strconv.FormatFloat(distanceCM, 'f', -1, 64)
	speed := strconv.FormatFloat(speedMPS, 'f', -1, 64)
	if !strings.Contains(speed, ".") {
		speed += ".0"
	}
	return fmt.Sprintf("%d_%scm_%smps_grip_data",
		t.Unix(),
		strings.ReplaceAll(dist, ".", "p"),
		strings.ReplaceAll(speed, ".", "p"))
}

// ParseName extracts distance and speed from an artifact file name.
func ParseName(name string) (distanceCM, speedMPS float64, ok bool) {
	m := nameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	d, err := strconv.ParseFloat(strings.ReplaceAll(m[1], "p", "."), 64)
	if err != nil {
		return 0, 0, false
	}
	s, err := strconv.ParseFloat(strings.ReplaceAll(m[2], "p", "."), 64)
	if err != nil {
		return 0, 0, false
	}
	return d, s, true
}

// Read loads an artifact written by Write.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(Header)
	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s: header: %w", path, err)
	}
	for i, col := range Header {
		if head[i] != col {
			return nil, fmt.Errorf("read %s: column %d is %q, want %q", path, i, head[i], col)
		}
	}

	var out []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		ts, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("read %s: Host_Time_s %q: %w", path, row[0], err)
		}
		rec := Record{HostTime: ts, Raw: row[1]}
		if row[2] != "" {
			v, err := strconv.ParseFloat(row[2], 64)
			if err != nil {
				return nil, fmt.Errorf("read %s: Filtered_Line %q: %w", path, row[2], err)
			}
			rec.Filtered = v
			rec.HasFiltered = true
		}
		out = append(out, rec)
	}
	return out, nil
}
