package readings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/grip_recorder/internal/filter"
	"github.com/relabs-tech/grip_recorder/internal/force"
)

var fixed = time.Unix(1700000000, 0)

func testWriter(dir string) *Writer {
	return &Writer{Dir: dir, Now: func() time.Time { return fixed }}
}

func testMeta() Metadata {
	return Metadata{
		SessionID:  "abc",
		Start:      fixed,
		DistanceCM: 100,
		SpeedMPS:   0.1,
		Direction:  "forward",
		Window:     filter.Window{Size: 5, NSigmas: 3},
	}
}

func TestFileBase(t *testing.T) {
	tests := []struct {
		d, s float64
		want string
	}{
		{100, 0.1, "1700000000_100cm_0p1mps_grip_data"},
		{50, 1, "1700000000_50cm_1p0mps_grip_data"},
		{12.5, 0.25, "1700000000_12p5cm_0p25mps_grip_data"},
	}
	for _, tt := range tests {
		if got := FileBase(fixed, tt.d, tt.s); got != tt.want {
			t.Errorf("FileBase(%v, %v) = %q, want %q", tt.d, tt.s, got, tt.want)
		}
	}
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name string
		d, s float64
		ok   bool
	}{
		{"1700000000_100cm_0p1mps_grip_data.csv", 100, 0.1, true},
		{"1700000000_12p5cm_1p0mps_grip_data_2.csv", 12.5, 1, true},
		{"1700000000_grip_data.csv", 0, 0, false},
		{"notes.txt", 0, 0, false},
	}
	for _, tt := range tests {
		d, s, ok := ParseName(tt.name)
		if ok != tt.ok || d != tt.d || s != tt.s {
			t.Errorf("ParseName(%q) = %v, %v, %v; want %v, %v, %v", tt.name, d, s, ok, tt.d, tt.s, tt.ok)
		}
	}
}

func TestWriteEmptyTouchesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "readings")
	_, err := testWriter(dir).Write(testMeta(), nil)
	if !errors.Is(err, ErrNothingToPersist) {
		t.Fatalf("Write error = %v, want ErrNothingToPersist", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("directory should not exist, stat err = %v", err)
	}
}

func TestWriteAndRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "readings")
	rows := []Row{
		{Sample: force.Sample{HostTime: fixed.Add(100 * time.Millisecond), Value: force.Decode([]byte("512\r\n"))}, Filtered: 512, HasFiltered: true},
		{Sample: force.Sample{HostTime: fixed.Add(200 * time.Millisecond), Value: force.Decode([]byte("ERR, x"))}},
		{Sample: force.Sample{HostTime: fixed.Add(300 * time.Millisecond), Value: force.Decode([]byte("2000"))}, Filtered: 510.6, HasFiltered: true},
	}
	meta := testMeta()
	meta.Dropped = 2

	art, err := testWriter(dir).Write(meta, rows)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if want := filepath.Join(dir, "1700000000_100cm_0p1mps_grip_data.csv"); art.Path != want {
		t.Errorf("Path = %q, want %q", art.Path, want)
	}
	if art.Rows != 3 || art.NonNumeric != 1 {
		t.Errorf("Artifact = %+v, want 3 rows, 1 non-numeric", art)
	}

	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "Host_Time_s,Raw_Data_Line,Filtered_Line" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "1700000000.100000,512,512" {
		t.Errorf("row 1 = %q", lines[1])
	}
	if lines[2] != `1700000000.200000,"ERR, x",` {
		t.Errorf("row 2 = %q", lines[2])
	}

	recs, err := Read(art.Path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len(recs) = %d, want 3", len(recs))
	}
	if recs[1].HasFiltered || recs[1].Raw != "ERR, x" {
		t.Errorf("recs[1] = %+v, want raw without filtered value", recs[1])
	}
	if recs[2].Raw != "2000" || recs[2].Filtered != 511 {
		t.Errorf("recs[2] = %+v, want raw 2000, filtered 511", recs[2])
	}

	side, err := os.ReadFile(art.MetaPath)
	if err != nil {
		t.Fatalf("sidecar: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(side, &got); err != nil {
		t.Fatalf("sidecar json: %v", err)
	}
	if got["session_id"] != "abc" || got["dropped"] != float64(2) || got["rows"] != float64(3) {
		t.Errorf("sidecar = %v", got)
	}
}

func TestWriteNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	w := testWriter(dir)
	rows := []Row{{Sample: force.Sample{HostTime: fixed, Value: force.NumberValue(1)}, Filtered: 1, HasFiltered: true}}

	first, err := w.Write(testMeta(), rows)
	if err != nil {
		t.Fatalf("first Write: %v", err)
	}
	second, err := w.Write(testMeta(), rows)
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if first.Path == second.Path {
		t.Fatalf("both writes went to %s", first.Path)
	}
	if !strings.HasSuffix(second.Path, "_grip_data_1.csv") {
		t.Errorf("second Path = %q, want _1 suffix", second.Path)
	}
	if _, _, ok := ParseName(filepath.Base(second.Path)); !ok {
		t.Errorf("ParseName could not read %q", second.Path)
	}
}
