// Package codecs implements the codec listing sub-command.
package codecs

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aircast/aircast/internal/codec"
)

// Command creates the codecs sub-command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "codecs",
		Short: "List the registered encoding engines",
		Run: func(cmd *cobra.Command, args []string) {
			codec.RegisterFallbacks()
			for _, entry := range codec.Registered() {
				fmt.Println(entry)
			}
		},
	}
}
