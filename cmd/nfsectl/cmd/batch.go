package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	invoicingapp "github.com/erp/nfse-bridge/internal/application/invoicing"
)

var generateCmd = &cobra.Command{
	Use:   "generate <orderIDs...>",
	Short: "Create RPS records for ERP sales orders",
	Long: `Create one RPS record per ERP sales order.

Orders that are cancelled, have no billable service lines or already have a
record are reported as ignored.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

var submitCmd = &cobra.Command{
	Use:   "submit <recordIDs...>",
	Short: "Submit pending RPS records to the municipal processor",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSubmit,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile processing and unverified issued records",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts per status",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(generateCmd, submitCmd, syncCmd, statsCmd)
}

type batchOutput struct {
	Summary invoicingapp.BatchSummary `json:"summary"`
	Results any                       `json:"results"`
}

func runGenerate(cmd *cobra.Command, args []string) error {
	orderIDs, err := parseOrderIDs(args)
	if err != nil {
		return err
	}
	return withApp(contextOf(cmd), func(a *app) error {
		results, err := a.invoicing.Generate(contextOf(cmd), invoicingapp.GenerateRequest{OrderIDs: orderIDs})
		if err != nil {
			return err
		}
		return printJSON(batchOutput{Summary: invoicingapp.SummarizeGenerate(results), Results: results})
	})
}

func runSubmit(cmd *cobra.Command, args []string) error {
	recordIDs, err := parseRecordIDs(args)
	if err != nil {
		return err
	}
	return withApp(contextOf(cmd), func(a *app) error {
		results, err := a.invoicing.Submit(contextOf(cmd), invoicingapp.SubmitRequest{RecordIDs: recordIDs})
		if err != nil {
			return err
		}
		return printJSON(batchOutput{Summary: invoicingapp.SummarizeSubmit(results), Results: results})
	})
}

func runSync(cmd *cobra.Command, _ []string) error {
	return withApp(contextOf(cmd), func(a *app) error {
		result, err := a.invoicing.Sync(contextOf(cmd))
		if err != nil {
			return err
		}
		return printJSON(result)
	})
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withApp(contextOf(cmd), func(a *app) error {
		stats, err := a.invoicing.Stats(contextOf(cmd))
		if err != nil {
			return err
		}
		return printJSON(stats)
	})
}

func parseOrderIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid order id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseRecordIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid record id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
