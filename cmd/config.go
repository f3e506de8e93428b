package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/blnkfinance/tillsync/config"
)

const redacted = "********"

func configCommands(_ *tillsyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your till's computed configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			shown := *cfg
			if shown.Ledger.ApiKey != "" {
				shown.Ledger.ApiKey = redacted
			}
			if shown.Server.SecretKey != "" {
				shown.Server.SecretKey = redacted
			}

			data, err := json.MarshalIndent(shown, "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}
