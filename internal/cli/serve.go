package cli

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/skillctl/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local run dashboard",
	Long: `Start a read-only browser UI on localhost showing update and finalize runs,
their stage history, check results and review cycles.

Check and review details need the event log (the db section of the config).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		e, cleanup, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		addr := fmt.Sprintf("127.0.0.1:%d", port)
		cmd.Printf("Run dashboard: http://%s\n", addr)
		return web.NewServer(e.store, e.db, e.logger).ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "port to listen on")
}
