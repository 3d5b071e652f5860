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

// Package config holds the cluster and scheduling constants shared by
// every component, mirroring the original prototype's SSConfig module.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Cluster holds the per-node resource inventory sizes.
type Cluster struct {
	CoresPerNode int     `json:"coresPerNode"`
	WaysPerNode  int     `json:"waysPerNode"`
	MembwPerNode float64 `json:"membwPerNode"`
	// FreqFactor calibrates out CPU-frequency boost observed at each
	// scale, keyed by scale factor.
	FreqFactor map[int]float64 `json:"freqFactor"`
}

// Database holds the stride-scheduler pacing constants.
type Database struct {
	DefaultStride float64 `json:"defaultStride"`
	SlowStride    float64 `json:"slowStride"`
}

// Profiling holds the way counts sampled when harvesting a curve.
type Profiling struct {
	SampleWays []int `json:"sampleWays"`
}

// Config is the full set of tunables for a scheduler instance.
type Config struct {
	Cluster   Cluster   `json:"cluster"`
	Database  Database  `json:"database"`
	Profiling Profiling `json:"profiling"`

	ProfileFile string `json:"profileFile"`
	HistoryDir  string `json:"historyDir"`
}

// Default scale factors understood by every placement policy.
var Scales = []int{1, 2, 4}

// New returns a Config populated with the defaults of the original
// bic-cluster deployment, mirroring SSconfig.py's SSConfig class.
func New() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills in any zero-valued fields, following the shape of
// the teacher's SetDefaults_MultiObjectiveArgs.
func (c *Config) SetDefaults() {
	if c.Cluster.CoresPerNode == 0 {
		c.Cluster.CoresPerNode = 28
	}
	if c.Cluster.WaysPerNode == 0 {
		c.Cluster.WaysPerNode = 20
	}
	if c.Cluster.MembwPerNode == 0 {
		c.Cluster.MembwPerNode = 120
	}
	if c.Cluster.FreqFactor == nil {
		c.Cluster.FreqFactor = map[int]float64{1: 1.00, 2: 1.02, 4: 1.05, 8: 1.15}
	}
	if c.Database.DefaultStride == 0 {
		c.Database.DefaultStride = 100
	}
	if c.Database.SlowStride == 0 {
		c.Database.SlowStride = 50
	}
	if len(c.Profiling.SampleWays) == 0 {
		c.Profiling.SampleWays = []int{20, 8, 4, 2}
	}
	if c.ProfileFile == "" {
		c.ProfileFile = "progs_profile.txt"
	}
	if c.HistoryDir == "" {
		c.HistoryDir = "JobLogs"
	}
}

// Validate rejects configurations that would make the resource model
// or stride scheduler misbehave.
func (c *Config) Validate() error {
	if c.Cluster.CoresPerNode <= 0 {
		return fmt.Errorf("cluster.coresPerNode must be positive, got %d", c.Cluster.CoresPerNode)
	}
	if c.Cluster.WaysPerNode <= 1 {
		return fmt.Errorf("cluster.waysPerNode must be greater than 1, got %d", c.Cluster.WaysPerNode)
	}
	if c.Cluster.MembwPerNode <= 0 {
		return fmt.Errorf("cluster.membwPerNode must be positive, got %v", c.Cluster.MembwPerNode)
	}
	if c.Database.DefaultStride <= 0 || c.Database.SlowStride <= 0 {
		return fmt.Errorf("database strides must be positive, got default=%v slow=%v", c.Database.DefaultStride, c.Database.SlowStride)
	}
	if c.Database.SlowStride > c.Database.DefaultStride {
		return fmt.Errorf("database.slowStride (%v) must not exceed database.defaultStride (%v)", c.Database.SlowStride, c.Database.DefaultStride)
	}
	for _, w := range c.Profiling.SampleWays {
		if w < 1 || w > c.Cluster.WaysPerNode {
			return fmt.Errorf("profiling.sampleWays entry %d out of range [1,%d]", w, c.Cluster.WaysPerNode)
		}
	}
	return nil
}

// BindFlags registers the configuration as pflag flags. cmd/ss-master
// binds them; cmd/ss-simulate uses the defaults from New.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.Cluster.CoresPerNode, "cores-per-node", c.Cluster.CoresPerNode, "CPU cores available per node")
	fs.IntVar(&c.Cluster.WaysPerNode, "ways-per-node", c.Cluster.WaysPerNode, "LLC ways available per node")
	fs.Float64Var(&c.Cluster.MembwPerNode, "membw-per-node", c.Cluster.MembwPerNode, "memory bandwidth (GB/s) available per node")
	fs.Float64Var(&c.Database.DefaultStride, "default-stride", c.Database.DefaultStride, "default priority stride")
	fs.Float64Var(&c.Database.SlowStride, "slow-stride", c.Database.SlowStride, "demoted priority stride for a stuck job")
	fs.StringVar(&c.ProfileFile, "profile-file", c.ProfileFile, "path to the append-only profile store file")
	fs.StringVar(&c.HistoryDir, "history-dir", c.HistoryDir, "directory for per-run job history files")
}
