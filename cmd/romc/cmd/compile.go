package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/romclass/pkg/model"
	"github.com/romclass/pkg/writer"
)

var (
	// Compile command flags
	reportPath      string
	workers         int
	compressionType string
	outOfLineDebug  bool
	outOfLineUTF8   bool
	byteOrder       string
	stripDebug      bool
	includes        []string
	excludes        []string
	bootstrap       bool
	strict          bool
)

var compileCmd = &cobra.Command{
	Use:   "compile <path>...",
	Short: "Compile class files into ROM classes",
	Long: `Compile every .class file named on the command line or found below the given
directories. Directories are treated as class-path roots: a file's location must
match the class it declares.

Flags override the corresponding configuration keys.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)

	f := compileCmd.Flags()
	f.StringVarP(&reportPath, "report", "r", "", "Write the batch report as JSON to this file")
	f.IntVarP(&workers, "workers", "w", 0, "Number of concurrent compilations")
	f.StringVar(&compressionType, "compression", "", "Artifact compression: none, gzip or zstd")
	f.BoolVar(&outOfLineDebug, "out-of-line-debug", false, "Write line numbers and variable tables to separate artifacts")
	f.BoolVar(&outOfLineUTF8, "out-of-line-utf8", false, "Write the string section to a separate artifact")
	f.StringVar(&byteOrder, "byte-order", "", "Output byte order: little or big")
	f.BoolVar(&stripDebug, "strip-debug", false, "Drop line numbers, local variables and source file names")
	f.StringSliceVar(&includes, "include", nil, "Only compile classes under these packages")
	f.StringSliceVar(&excludes, "exclude", nil, "Skip classes under these packages")
	f.BoolVar(&bootstrap, "bootstrap", false, "Compile as the bootstrap loader (allows java/ packages)")
	f.BoolVar(&strict, "strict", false, "Exit with an error when any class fails")
}

func applyCompileFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("workers") {
		cfg.Worker.Count = workers
	}
	if f.Changed("compression") {
		cfg.Compression.Type = compressionType
	}
	if f.Changed("out-of-line-debug") {
		cfg.Compile.OutOfLineDebugInfo = outOfLineDebug
	}
	if f.Changed("out-of-line-utf8") {
		cfg.Compile.OutOfLineUTF8 = outOfLineUTF8
	}
	if f.Changed("byte-order") {
		cfg.Compile.ByteOrder = byteOrder
	}
	if stripDebug {
		cfg.Compile.PreserveLineNumbers = false
		cfg.Compile.PreserveLocalVariables = false
		cfg.Compile.PreserveSourceFileName = false
		cfg.Compile.PreserveSourceDebugExtension = false
	}
	if f.Changed("include") {
		cfg.Compile.Include = includes
	}
	if f.Changed("exclude") {
		cfg.Compile.Exclude = excludes
	}
	if f.Changed("bootstrap") {
		cfg.Compile.BootstrapLoader = bootstrap
	}
}

func runCompile(cmd *cobra.Command, args []string) error {
	applyCompileFlags(cmd)
	ctx := cmd.Context()

	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	summary, err := svc.CompileBatch(ctx, args)
	if err != nil {
		return err
	}
	printSummary(cmd, summary)

	if reportPath != "" {
		path, res, err := writer.NewPrettyJSONWriter[*model.BatchSummary]().WriteToFile(summary, reportPath)
		if err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		logger.Info("Report written to %s (%d bytes)", path, res.WrittenSize)
	}

	if strict && summary.HasFailures() {
		return fmt.Errorf("%d of %d classes failed", summary.Failed, summary.Total)
	}
	return nil
}

func printSummary(cmd *cobra.Command, s *model.BatchSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Classes:   %d (%d compiled, %d cached, %d failed, %d skipped)\n",
		s.Total, s.Compiled, s.Cached, s.Failed, s.Skipped)
	fmt.Fprintf(out, "ROM bytes: %d\n", s.ROMBytes)
	fmt.Fprintf(out, "Elapsed:   %v\n", s.Duration())

	if !s.HasFailures() {
		return
	}
	fmt.Fprintf(out, "\nFailure rate: %.1f%%\nFailures by code:\n", s.FailureRate()*100)
	for _, c := range s.Codes() {
		fmt.Fprintf(out, "  %-36s %d\n", c, s.ByCode[c])
	}

	failures := make([]model.CompileOutcome, 0, s.Failed)
	for _, o := range s.Outcomes {
		if o.Status == model.StatusFailed {
			failures = append(failures, o)
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Request.Path < failures[j].Request.Path })
	for i, o := range failures {
		if i == 10 {
			fmt.Fprintf(out, "  ... and %d more\n", len(failures)-10)
			break
		}
		fmt.Fprintf(out, "  %s: %s\n", o.Request.DisplayName(), o.Message)
	}
}
