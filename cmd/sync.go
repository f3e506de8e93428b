package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

// syncCommands defines "sync", a one-shot drain of the order queue for
// cron jobs and for cashiers closing a shift.
func syncCommands(app *tillsyncInstance) *cobra.Command {
	var orderID string
	var force bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "push queued orders to the ledger once and exit",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			var result interface{}
			failed := false
			if orderID != "" {
				res := app.tillsync.SyncOrder(ctx, orderID, force)
				failed = !res.Success && !res.Skipped
				result = res
			} else {
				if n := app.tillsync.RecoverInterruptedSyncs(ctx); n > 0 {
					log.Printf("Recovered %d interrupted syncs", n)
				}
				batch := app.tillsync.SyncAllPending(ctx)
				failed = batch.Failed > 0
				result = batch
			}

			data, err := json.MarshalIndent(result, "", "    ")
			if err != nil {
				log.Fatalf("Error printing result: %v\n", err)
			}
			fmt.Println(string(data))

			if failed {
				_ = app.tillsync.Close()
				os.Exit(2)
			}
		},
	}

	cmd.Flags().StringVar(&orderID, "order", "", "sync a single order by local id")
	cmd.Flags().BoolVar(&force, "force", false, "resubmit the order even if it is already synced")
	return cmd
}
