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

// Command ss-master runs the live scheduler core: it accepts daemon
// and user websocket connections, schedules the job sequence given on
// the command line, and appends one summary line to results.txt on
// completion, the Go counterpart of the original prototype's
// SSmaster.py entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/thu-pacman/stride-scheduler/pkg/config"
	"github.com/thu-pacman/stride-scheduler/pkg/master"
	"github.com/thu-pacman/stride-scheduler/pkg/metrics"
	"github.com/thu-pacman/stride-scheduler/pkg/trace"
	"k8s.io/klog/v2"
)

func main() {
	cfg := config.New()

	var (
		listenAddr  string
		metricsAddr string
		minDaemons  int
		resultsFile string
	)

	root := &cobra.Command{
		Use:   "ss-master ALGORITHM JOB_SEQUENCE ALPHA",
		Short: "Run the stride-scheduler master against live daemon connections",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			algo := strings.ToUpper(strings.TrimSpace(args[0]))
			jobSequence := strings.TrimSpace(args[1])
			alpha, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("parsing ALPHA: %w", err)
			}

			logger := klog.Background()
			registry := prometheus.NewRegistry()
			recorder := metrics.NewRecorder(registry)
			defer recorder.Unregister(registry)
			trace.NewProvider()

			m, err := master.New(algo, cfg, alpha, minDaemons, logger, recorder)
			if err != nil {
				return err
			}
			if err := m.AddJobSequence(jobSequence); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
					logger.Error(err, "metrics server exited")
				}
			}()

			logger.Info("master started, will schedule jobs once daemons connect", "algorithm", algo, "listen", listenAddr)
			if err := m.Serve(ctx, listenAddr); err != nil && ctx.Err() == nil {
				return fmt.Errorf("serving: %w", err)
			}

			summary := m.Stats()
			jobCount := len(summary.JobRunTimes)
			line := fmt.Sprintf("Algorithm %s Alpha %.2f Occupation %.2f MaxTurnaround %.2f UseCoreHours %.2f BubbleCoreHours %.2f Jobs %d",
				algo, alpha, summary.OccupationPercent, summary.MaxTurnaroundHours, summary.UseCoreHours, summary.BubbleCoreHours, jobCount)
			fmt.Println(line)

			f, err := os.OpenFile(resultsFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("opening %s: %w", resultsFile, err)
			}
			defer f.Close()
			_, err = fmt.Fprintln(f, line)
			return err
		},
	}

	cfg.BindFlags(root.Flags())
	root.Flags().StringVar(&listenAddr, "listen", ":7777", "address to accept daemon/user websocket connections on")
	root.Flags().StringVar(&metricsAddr, "metrics-listen", ":9090", "address to serve Prometheus metrics on")
	root.Flags().IntVar(&minDaemons, "min-daemons", 8, "minimum registered daemons before scheduling begins")
	root.Flags().StringVar(&resultsFile, "results-file", "results.txt", "path to append the summary line to")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
