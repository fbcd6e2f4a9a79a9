package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize-url",
	Short: "Print the ERP consent URL",
	Long: `Print the URL an operator opens to grant the bridge access to the ERP account.

The callback is served by the running server, so the state nonce must be stored
where the server can read it. Enable Redis for this to work.`,
	Args: cobra.NoArgs,
	RunE: runAuthorize,
}

func init() {
	rootCmd.AddCommand(authorizeCmd)
}

func runAuthorize(cmd *cobra.Command, _ []string) error {
	ctx := contextOf(cmd)
	return withApp(ctx, func(a *app) error {
		if !a.sharedNonces {
			fmt.Fprintln(os.Stderr, "warning: redis is disabled, the server will reject this state on callback")
		}
		url, err := a.tokens.BeginAuthorization(ctx)
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	})
}
