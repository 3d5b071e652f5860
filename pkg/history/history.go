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

// Package history writes the optional per-run job history file: one
// append-only line per completed job, "JOBID %5d: <json>".
package history

import (
	"encoding/json"
	"fmt"
	"os"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
)

// NCWB is the chosen placement tuple: node count, cores-per-node,
// ways, and memory bandwidth per node.
type NCWB struct {
	N int     `json:"n"`
	C int     `json:"c"`
	W int     `json:"w"`
	B float64 `json:"b"`
}

// Record is one completed job's history entry.
type Record struct {
	JobAttr    v1.JobAttr `json:"jobattr"`
	SubmitTime float64    `json:"submitTime"`
	StartTime  float64    `json:"startTime"`
	FinishTime float64    `json:"finishTime"`
	NodeList   []string   `json:"nodelist"`
	NCWB       NCWB       `json:"NCWB"`
	Scale      int        `json:"scale"`
	Mode       v1.Mode    `json:"mode"`
	ToProfile  bool       `json:"toprofile"`
}

// Writer appends job history records to a single file for one run.
type Writer struct {
	f *os.File
}

// Create opens (or creates) a history file for appending.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening history file %q: %w", path, err)
	}
	return &Writer{f: f}, nil
}

// Append writes one "JOBID %5d: <json>" line.
func (w *Writer) Append(jobid v1.JobID, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding history record for job %d: %w", jobid, err)
	}
	if _, err := fmt.Fprintf(w.f, "JOBID %5d: %s\n", jobid, body); err != nil {
		return fmt.Errorf("appending history file: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}
