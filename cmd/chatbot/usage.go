package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

func usageCmd() *cobra.Command {
	var tenantID, from, to string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Print a tenant's daily usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return fmt.Errorf("--tenant is required")
			}
			today := domain.DayOf(time.Now())
			if from == "" {
				from = today
			}
			if to == "" {
				to = from
			}
			for _, d := range []string{from, to} {
				if _, err := time.Parse(domain.DayLayout, d); err != nil {
					return fmt.Errorf("invalid day %q, expected YYYY-MM-DD", d)
				}
			}

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			days, total, err := a.uc.Usage.Range(cmd.Context(), tenantID, from, to)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "DAY\tMESSAGES\tPROMPT\tCOMPLETION\tCOST (USD)\t")
			for _, d := range days {
				printUsageRow(w, d.Day, d)
			}
			if total != nil {
				printUsageRow(w, "total", total)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant id")
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (default: --from)")
	return cmd
}

func printUsageRow(w *tabwriter.Writer, label string, c *domain.UsageCounter) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.6f\t\n", label, c.MessagesProcessed, c.PromptTokens, c.CompletionTokens, c.EstimatedCost)
}
