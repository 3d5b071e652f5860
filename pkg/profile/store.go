/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package profile persists and queries IPC/memory-bandwidth-vs-ways
// curves for each (program, scale) pair, feeding the placement
// policies' share-mode demand calculation.
package profile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"k8s.io/klog/v2"
)

// Entry is a single (program, scale) curve.
type Entry struct {
	Time float64   `json:"time"`
	IPCs []float64 `json:"ipcs"`
	MBWs []float64 `json:"mbws"`
}

type fileRecord struct {
	Prog  string `json:"prog"`
	Scale int    `json:"scale"`
	Value Entry  `json:"value"`
}

// Store is the in-memory, append-only-file-backed profile database.
type Store struct {
	path       string
	wcnt       int
	anchors    []int
	logger     klog.Logger
	byProgram  map[string]map[int]Entry
}

// Load reads the append-only profile file (creating it if absent) and
// populates the in-memory map. wcnt is Wnode+1 (index 0 unused).
func Load(path string, wcnt int, anchors []int, logger klog.Logger) (*Store, error) {
	s := &Store{
		path:      path,
		wcnt:      wcnt,
		anchors:   append([]int(nil), anchors...),
		logger:    logger,
		byProgram: make(map[string]map[int]Entry),
	}

	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening profile file %q: %w", path, err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parsing profile file %q: %w", path, err)
		}
		if s.byProgram[rec.Prog] == nil {
			s.byProgram[rec.Prog] = make(map[int]Entry)
		}
		s.byProgram[rec.Prog][rec.Scale] = rec.Value
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading profile file %q: %w", path, err)
	}
	s.logger.Info("profile loaded", "entries", count, "path", path)
	return s, nil
}

// Get returns the known scale->entry curves for a program. The
// returned map may be nil if nothing is known yet.
func (s *Store) Get(program string) map[int]Entry {
	return s.byProgram[program]
}

// RecordFinish folds the per-daemon returns of a finished profiling
// run into the store. It is a no-op, returning ok=false, if an entry
// for (program, scale) already exists: first writer wins, per
// spec.md §3's invariant and §9's resolved open question.
func (s *Store) RecordFinish(program string, scale int, jobTime float64, returns []v1.Returns) (Entry, bool, error) {
	if existing, ok := s.byProgram[program]; ok {
		if e, ok := existing[scale]; ok {
			return e, false, nil
		}
	}

	sums := make([]float64, s.wcnt)
	counts := make([]int, s.wcnt)
	bwSums := make([]float64, s.wcnt)

	for _, ret := range returns {
		if len(ret.IPCs) == 0 {
			continue
		}
		for w := 1; w < s.wcnt && w < len(ret.IPCs) && w < len(ret.MBWs); w++ {
			ipc, mbw := ret.IPCs[w], ret.MBWs[w]
			if ipc > 0 && mbw > 0 {
				sums[w] += ipc
				bwSums[w] += mbw
				counts[w]++
			}
		}
	}

	measuredIPC := make(map[int]float64)
	measuredMBW := make(map[int]float64)
	for w := 1; w < s.wcnt; w++ {
		if counts[w] > 0 {
			measuredIPC[w] = round4(sums[w] / float64(counts[w]))
			measuredMBW[w] = round4(bwSums[w] / float64(counts[w]))
		}
	}

	entry := Entry{
		Time: jobTime,
		IPCs: interpolateCurve(measuredIPC, s.anchors, s.wcnt),
		MBWs: interpolateCurve(measuredMBW, s.anchors, s.wcnt),
	}

	if s.byProgram[program] == nil {
		s.byProgram[program] = make(map[int]Entry)
	}
	s.byProgram[program][scale] = entry

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return entry, true, fmt.Errorf("appending profile file %q: %w", s.path, err)
	}
	defer f.Close()

	line, err := json.Marshal(fileRecord{Prog: program, Scale: scale, Value: entry})
	if err != nil {
		return entry, true, fmt.Errorf("encoding profile entry for %q scale %d: %w", program, scale, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return entry, true, fmt.Errorf("appending profile file %q: %w", s.path, err)
	}

	s.logger.V(4).Info("profile entry recorded", "program", program, "scale", scale)
	return entry, true, nil
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
