// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package readings writes finished captures to disk as CSV artifacts, one
// file per run, plus a JSON sidecar describing the run.
package readings

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/grip_recorder/internal/filter"
	"github.com/relabs-tech/grip_recorder/internal/force"
)

// ErrNothingToPersist is returned by Write when there are no rows. It is an
// outcome, not a failure: nothing is written.
var ErrNothingToPersist = errors.New("save: nothing to persist")

// Header is the CSV header row.
var Header = []string{"Host_Time_s", "Raw_Data_Line", "Filtered_Line"}

const maxCollisions = 1000

// Row pairs a retained sample with its filtered value. HasFiltered is false
// for non-numeric samples.
type Row struct {
	Sample      force.Sample
	Filtered    float64
	HasFiltered bool
}

// Metadata describes the run that produced an artifact.
type Metadata struct {
	SessionID  string        `json:"session_id"`
	Start      time.Time     `json:"start"`
	DistanceCM float64       `json:"distance_cm"`
	SpeedMPS   float64       `json:"speed_mps"`
	Direction  string        `json:"direction"`
	Window     filter.Window `json:"filter"`
	Dropped    uint64        `json:"dropped"`
	Aborted    bool          `json:"aborted"`
}

// Artifact is what Write produced.
type Artifact struct {
	Path       string `json:"path"`
	MetaPath   string `json:"meta_path"`
	Rows       int    `json:"rows"`
	NonNumeric int    `json:"non_numeric"`
}

type sidecar struct {
	Metadata
	File       string    `json:"file"`
	Rows       int       `json:"rows"`
	NonNumeric int       `json:"non_numeric"`
	WrittenAt  time.Time `json:"written_at"`
}

// Writer creates artifacts under Dir. Now stamps file names; time.Now when
// nil.
type Writer struct {
	Dir string
	Now func() time.Time
}

// NewWriter returns a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir, Now: time.Now}
}

// Write persists rows. With no rows it returns ErrNothingToPersist without
// touching the filesystem. The artifact name never overwrites an existing
// file.
func (w *Writer) Write(meta Metadata, rows []Row) (Artifact, error) {
	if len(rows) == 0 {
		log.Printf("save: no data recorded after start, nothing saved")
		return Artifact{}, ErrNothingToPersist
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("save: create %s: %w", w.Dir, err)
	}

	stamp := now()
	base := FileBase(stamp, meta.DistanceCM, meta.SpeedMPS)
	f, path, err := createUnique(w.Dir, base)
	if err != nil {
		return Artifact{}, err
	}

	art := Artifact{Path: path, Rows: len(rows)}
	if err := writeCSV(f, rows, &art); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return Artifact{}, fmt.Errorf("save: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return Artifact{}, fmt.Errorf("save: close %s: %w", path, err)
	}

	art.MetaPath = strings.TrimSuffix(path, ".csv") + ".json"
	side := sidecar{
		Metadata:   meta,
		File:       filepath.Base(path),
		Rows:       art.Rows,
		NonNumeric: art.NonNumeric,
		WrittenAt:  stamp,
	}
	data, err := json.MarshalIndent(side, "", "  ")
	if err == nil {
		err = os.WriteFile(art.MetaPath, data, 0o644)
	}
	if err != nil {
		// the CSV is the artifact; a missing sidecar is not fatal
		log.Printf("save: metadata %s: %v", art.MetaPath, err)
		art.MetaPath = ""
	}

	log.Printf("save: %d data points written to %s", art.Rows, path)
	return art, nil
}

func writeCSV(f *os.File, rows []Row, art *Artifact) error {
	cw := csv.NewWriter(f)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		filtered := ""
		if r.HasFiltered {
			filtered = strconv.FormatInt(int64(math.Round(r.Filtered)), 10)
		} else {
			art.NonNumeric++
		}
		rec := []string{
			fmt.Sprintf("%.6f", r.Sample.Seconds()),
			r.Sample.Value.Text,
			filtered,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// createUnique opens base.csv exclusively, falling back to base_1.csv,
// base_2.csv and so on.
func createUnique(dir, base string) (*os.File, string, error) {
	for n := 0; n < maxCollisions; n++ {
		name := base + ".csv"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.csv", base, n)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("save: create %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("save: no free name for %s in %s", base, dir)
}
