package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/romclass/internal/catalog"
)

var (
	listPrefix string
	listResult string
	listLimit  int
	listOffset int
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Query the compilation catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded compilations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		recs, err := svc.ListRecords(cmd.Context(), catalog.ListOptions{
			ClassPrefix: listPrefix,
			ResultCode:  listResult,
			Limit:       listLimit,
			Offset:      listOffset,
		})
		if err != nil {
			return err
		}
		printRecords(cmd, recs)
		return nil
	},
}

var catalogHistoryCmd = &cobra.Command{
	Use:   "history <class-name>",
	Short: "Show the compilations of one class",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		recs, err := svc.History(cmd.Context(), args[0], listLimit)
		if err != nil {
			return err
		}
		printRecords(cmd, recs)
		return nil
	},
}

var catalogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count recorded compilations per result code",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		counts, err := svc.CatalogStats(cmd.Context())
		if err != nil {
			return err
		}
		codes := make([]string, 0, len(counts))
		for c := range counts {
			codes = append(codes, c)
		}
		sort.Strings(codes)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RESULT\tCOUNT")
		for _, c := range codes {
			fmt.Fprintf(w, "%s\t%d\n", c, counts[c])
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogListCmd, catalogHistoryCmd, catalogStatsCmd)

	catalogCmd.PersistentFlags().IntVarP(&listLimit, "limit", "n", 50, "Maximum number of records")
	catalogListCmd.Flags().StringVarP(&listPrefix, "prefix", "p", "", "Only classes under this package, e.g. com/example/")
	catalogListCmd.Flags().StringVar(&listResult, "result", "", "Only this result code (OK for successes)")
	catalogListCmd.Flags().IntVar(&listOffset, "offset", 0, "Skip this many records")
}

func printRecords(cmd *cobra.Command, recs []*catalog.CompiledClass) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCLASS\tRESULT\tROM\tMS\tCREATED\tARTIFACT")
	for _, r := range recs {
		result := r.ResultCode
		if result == "" {
			result = catalog.ResultOK
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.ClassName, result, r.ROMSize, r.DurationMS, r.CreatedAt.Format("2006-01-02 15:04:05"), r.ArtifactKey)
	}
	w.Flush()
}
