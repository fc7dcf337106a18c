package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/romclass/internal/service"
	"github.com/romclass/pkg/config"
	"github.com/romclass/pkg/pprof"
	"github.com/romclass/pkg/telemetry"
	"github.com/romclass/pkg/utils"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg      *config.Config
	logger   utils.Logger
	shutdown telemetry.ShutdownFunc

	// Pprof flags
	pprofEnabled     bool
	pprofMode        string
	pprofDir         string
	pprofProfiles    string
	pprofInterval    string
	pprofCPUDuration string
	pprofCPURate     int
	pprofAddr        string

	pprofCollector *pprof.Collector
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "romc",
	Short: "Compile JVM class files into relocatable ROM classes",
	Long: `romc compiles class files into the ROM class layout: a single relocatable image
holding the constant pool, fields, methods, rewritten bytecode and strings, with
optional out-of-line string and debug segments.

Compiled artifacts are written to local disk or a COS bucket, and every attempt is
recorded in an optional SQL catalog so unchanged classes are not recompiled.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		log, err := newLogger(&cfg.Log)
		if err != nil {
			return err
		}
		logger = log
		utils.SetGlobalLogger(logger)
		if cfg.File != "" {
			logger.Debug("Loaded configuration from %s", cfg.File)
		}

		shutdown, err = telemetry.Init(cmd.Context())
		if err != nil {
			logger.Warn("Tracing disabled: %v", err)
		}

		if pprofEnabled {
			pc, err := buildPprofConfig(cmd.Name())
			if err != nil {
				return err
			}
			collector, err := pprof.NewCollector(pc)
			if err != nil {
				return err
			}
			collector.SetSnapshotCallback(func(ev pprof.SnapshotEvent) {
				if ev.Err != nil {
					logger.Warn("pprof %s snapshot failed: %v", ev.Profile, ev.Err)
					return
				}
				logger.Debug("pprof %s snapshot written to %s", ev.Profile, ev.Path)
			})
			if err := collector.Start(cmd.Context()); err != nil {
				return err
			}
			pprofCollector = collector
			if pc.Mode == pprof.ModeHTTP {
				logger.Info("pprof serving on http://%s/debug/pprof/", collector.Mode().(*pprof.HTTPMode).Addr())
			} else {
				logger.Info("pprof collection started (profiles: %s, dir: %s)", pprofProfiles, pc.OutputDir)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if pprofCollector != nil {
			if err := pprofCollector.Stop(); err != nil {
				logger.Warn("Failed to stop pprof collector: %v", err)
			}
			if pprofCollector.Config().Mode == pprof.ModeFile {
				logger.Info("pprof data saved to: %s", pprofCollector.Writer().OutputDir())
			}
			pprofCollector = nil
		}
		if shutdown != nil {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("Failed to flush traces: %v", err)
			}
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: ./romc.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Pprof flags
	rootCmd.PersistentFlags().BoolVar(&pprofEnabled, "pprof", false, "Profile romc itself while the command runs")
	rootCmd.PersistentFlags().StringVar(&pprofMode, "pprof-mode", "file", "Pprof mode: file (write profiles) or http (serve /debug/pprof)")
	rootCmd.PersistentFlags().StringVar(&pprofDir, "pprof-dir", "./romc-pprof", "Output directory for pprof data")
	rootCmd.PersistentFlags().StringVar(&pprofProfiles, "pprof-profiles", "cpu,heap,allocs", "Comma-separated profile types: cpu,heap,goroutine,block,mutex,allocs")
	rootCmd.PersistentFlags().StringVar(&pprofInterval, "pprof-interval", "30s", "Interval between heap/goroutine/... snapshots in file mode")
	rootCmd.PersistentFlags().StringVar(&pprofCPUDuration, "pprof-cpu-duration", "30s", "Length of one CPU profile file in file mode")
	rootCmd.PersistentFlags().IntVar(&pprofCPURate, "pprof-cpu-rate", 100, "CPU profiling rate in Hz")
	rootCmd.PersistentFlags().StringVar(&pprofAddr, "pprof-addr", "localhost:6060", "HTTP listen address for http mode")

	binName := BinName()
	rootCmd.Example = `  # Compile every class under a class-path root
  ` + binName + ` compile ./build/classes

  # Compile with line numbers and variable tables moved out of line
  ` + binName + ` compile ./build/classes --out-of-line-debug --report report.json

  # Show what the compiler extracts from one class
  ` + binName + ` inspect ./build/classes/com/example/Main.class

  # Decode a compiled ROM class
  ` + binName + ` dump ./artifacts/rom/com/example/Main/<hash>.rom

  # Profile a large batch
  ` + binName + ` compile ./build/classes --pprof --pprof-profiles cpu,heap

  # Serve pprof endpoints while a long batch runs
  ` + binName + ` compile ./build/classes --pprof --pprof-mode http --pprof-addr localhost:6060`
}

func newLogger(lc *config.LogConfig) (utils.Logger, error) {
	level := utils.ParseLogLevel(lc.Level)
	if verbose {
		level = utils.LevelDebug
	}
	format := utils.WithFormat(utils.ParseLogFormat(lc.Format))
	if lc.OutputPath != "" {
		return utils.NewFileLogger(level, lc.OutputPath, format)
	}
	return utils.NewDefaultLogger(level, os.Stderr, format), nil
}

// newService creates and initializes the compile service from the loaded config.
func newService(ctx context.Context) (*service.Service, error) {
	svc, err := service.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	if err := svc.Initialize(ctx); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

// buildPprofConfig builds pprof configuration from command line flags.
func buildPprofConfig(label string) (*pprof.Config, error) {
	pc := pprof.DefaultConfig()
	pc.OutputDir = pprofDir
	pc.Label = label
	pc.CPURate = pprofCPURate
	pc.Addr = pprofAddr

	switch pprofMode {
	case "file":
		pc.Mode = pprof.ModeFile
	case "http":
		pc.Mode = pprof.ModeHTTP
	default:
		return nil, fmt.Errorf("invalid pprof mode: %q (valid: file, http)", pprofMode)
	}

	profiles, err := pprof.ParseProfileTypes(pprofProfiles)
	if err != nil {
		return nil, err
	}
	pc.Profiles = profiles

	interval, err := time.ParseDuration(pprofInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid pprof interval: %w", err)
	}
	pc.Interval = interval

	window, err := time.ParseDuration(pprofCPUDuration)
	if err != nil {
		return nil, fmt.Errorf("invalid pprof CPU duration: %w", err)
	}
	pc.CPUWindow = window

	return pc, nil
}
