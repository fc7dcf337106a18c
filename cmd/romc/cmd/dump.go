package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/romclass/internal/romclass"
	"github.com/romclass/pkg/compression"
	"github.com/romclass/pkg/writer"
)

var (
	dumpKey    string
	dumpOutput string
)

var dumpCmd = &cobra.Command{
	Use:   "dump [rom-file]",
	Short: "Decode a compiled ROM class",
	Long: `Decode a ROM class image and print its header, constant pool, fields and methods
as JSON. The image is read from a local file, or from the artifact store with --key.
Compressed artifacts are detected and decompressed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVarP(&dumpKey, "key", "k", "", "Artifact key in the configured store")
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "Write JSON to this file instead of stdout")
}

func runDump(cmd *cobra.Command, args []string) error {
	var img *romclass.Image
	switch {
	case dumpKey != "":
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		if img, err = svc.InspectArtifact(cmd.Context(), dumpKey); err != nil {
			return err
		}
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		raw, err := compression.AutoDecompress(data)
		if err != nil {
			return fmt.Errorf("failed to decompress %s: %w", args[0], err)
		}
		if img, err = romclass.Inspect(raw); err != nil {
			return err
		}
	default:
		return fmt.Errorf("a ROM file or --key is required")
	}

	w := writer.NewPrettyJSONWriter[*romclass.Image]()
	if dumpOutput != "" {
		_, _, err := w.WriteToFile(img, dumpOutput)
		return err
	}
	return w.Write(img, cmd.OutOrStdout())
}
