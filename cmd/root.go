// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd is the pagecached daemon entry point: it parses flags and
// the config file, wires up logging, metrics, the system memory
// provider, and the cache, then runs the background worker until the
// process is signalled.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/GoogleCloudPlatform/pagecached/cfg"
	"github.com/GoogleCloudPlatform/pagecached/clock"
	"github.com/GoogleCloudPlatform/pagecached/common"
	"github.com/GoogleCloudPlatform/pagecached/internal/logger"
	"github.com/GoogleCloudPlatform/pagecached/internal/pagecache"
)

var (
	cfgFile       string
	bindErr       error
	config        cfg.Config
	configFileErr error
	unmarshalErr  error
)

// memPollInterval is how often the daemon samples system memory to
// raise pressure warnings for the worker.
const memPollInterval = time.Second

var rootCmd = &cobra.Command{
	Use:   "pagecached [flags] data_dir",
	Short: "Run the page-cache daemon over a local data directory",
	Long: `pagecached keeps a process-wide page cache of file content: an
indexed residency structure per object, coalesced dirty writeback, and a
background worker that trims the cache under memory pressure. Backing
stores live as files under data_dir.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.Rationalize(&config); err != nil {
			return err
		}
		if err := cfg.ValidateConfig(&config); err != nil {
			return err
		}
		return runDaemon(cmd.Context(), args[0])
	},
}

func runDaemon(ctx context.Context, dataDir string) (err error) {
	if err = os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			writeCrashDump(filepath.Join(dataDir, "pagecached-crash.log"), r)
			panic(r)
		}
	}()

	if err = logger.InitLogFile(config.Logging); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.CloseLogFile()
	logger.Infof("%s starting, data dir %q", config.AppName, dataDir)

	metrics := common.NewNoopMetrics()
	shutdownMetrics := common.ShutdownFn(nil)
	if config.Metrics.Enabled {
		shutdownMetrics, err = common.SetupOTelMetricExporters(ctx, config.Metrics.PrometheusPort)
		if err != nil {
			return fmt.Errorf("set up metric exporters: %w", err)
		}
		if metrics, err = common.NewOTelMetrics(); err != nil {
			return fmt.Errorf("create metric handle: %w", err)
		}
	}

	largeVM := config.Memory.VMSize != cfg.SmallVM
	mem := pagecache.NewSystemMemory(int64(config.Memory.VirtualRetreat()) * 4)
	writer := pagecache.NewFileBackedWriter(mem, openBackingFile(dataDir), 0)
	cache := pagecache.New(mem, writer, clock.RealClock{}, metrics, tunablesFromConfig(&config, largeVM))
	cache.StartWorker()
	defer cache.StopWorker()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		ticker := time.NewTicker(memPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				trigger := int64(float64(mem.TotalPhysicalPages()) * config.Memory.HeadroomTriggerPercent.Fraction())
				mem.Poll(trigger, int64(config.Memory.VirtualTrigger()))
			}
		}
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdown := common.JoinShutdownFunc(shutdownMetrics, func(context.Context) error {
			return logger.CloseLogFile()
		})
		return shutdown(context.Background())
	})
	return group.Wait()
}

// tunablesFromConfig maps the parsed configuration onto the cache's
// tunables struct.
func tunablesFromConfig(c *cfg.Config, largeVM bool) pagecache.Tunables {
	tun := pagecache.DefaultTunables(largeVM)
	tun.HeadroomTriggerPercent = float64(c.Memory.HeadroomTriggerPercent)
	tun.HeadroomRetreatPercent = float64(c.Memory.HeadroomRetreatPercent)
	tun.WorkingSetFloorPercent = float64(c.Memory.WorkingSetFloorPercent)
	tun.AbsoluteMinimumPercent = float64(c.Memory.AbsoluteMinimumPercent)
	tun.VirtualTriggerBytes = int64(c.Memory.VirtualTrigger())
	tun.VirtualRetreatBytes = int64(c.Memory.VirtualRetreat())
	tun.FlushMax = int64(c.Flush.Max)
	tun.CleanStreakMax = c.Flush.CleanStreakMax
	tun.CleanDelay = c.Worker.CleanDelay
	tun.LowMemoryCleanMinPercent = float64(c.Memory.LowMemoryCleanMinPercent)
	tun.LowMemoryCleanCapPages = int64(c.Memory.LowMemoryCleanCapPages)
	tun.MaxDirtyShift = uint(c.Memory.MaxDirtyShift)
	tun.DebugCheckDirtyLists = c.Debug.CheckDirtyLists
	tun.TraceAccessPatterns = c.Debug.TraceAccessPatterns
	tun.ExitOnInvariantViolation = c.Debug.ExitOnInvariantViolation
	return tun
}

// maxOpenBackingFiles bounds the daemon's cache of open backing-store
// handles.
const maxOpenBackingFiles = 128

// openBackingFile resolves a file object to its backing file under the
// data directory, creating it on first use. Handles are cached with a
// FIFO cap so a large object population cannot exhaust descriptors.
func openBackingFile(dataDir string) func(obj pagecache.FileObject) (*os.File, error) {
	var mu sync.Mutex
	files := make(map[uuid.UUID]*os.File)
	order := common.NewLinkedListQueue[uuid.UUID]()
	return func(obj pagecache.FileObject) (*os.File, error) {
		mu.Lock()
		defer mu.Unlock()
		if f, ok := files[obj.ID()]; ok {
			return f, nil
		}
		f, err := os.OpenFile(filepath.Join(dataDir, obj.ID().String()), os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, err
		}
		for len(files) >= maxOpenBackingFiles {
			oldest := order.Pop()
			if old, ok := files[oldest]; ok {
				old.Close()
				delete(files, oldest)
			}
		}
		files[obj.ID()] = f
		order.Push(obj.ID())
		return f, nil
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to the YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if configFileErr = viper.ReadInConfig(); configFileErr != nil {
			return
		}
	}
	unmarshalErr = viper.Unmarshal(&config, viper.DecodeHook(cfg.DecodeHook()), func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
}

// Execute runs the daemon command; it is the program's main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
