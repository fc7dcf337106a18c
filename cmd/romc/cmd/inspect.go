package cmd

import (
	"github.com/spf13/cobra"

	"github.com/romclass/internal/romclass"
	"github.com/romclass/internal/service"
	"github.com/romclass/pkg/writer"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <class-file>",
	Short: "Show what the compiler extracts from a class file",
	Long: `Parse a class file and run the compiler's analysis without writing a ROM image.
The report lists constant-pool sizes, field categories and per-method properties
such as branch counts, send slots and which attributes survive.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := service.New(cfg, logger)
		if err != nil {
			return err
		}
		defer svc.Close()

		an, err := svc.AnalyzeFile(args[0])
		if err != nil {
			return err
		}
		return writer.NewPrettyJSONWriter[*romclass.Analysis]().Write(an, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
