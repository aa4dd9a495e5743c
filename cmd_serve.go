package main

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the inbox watcher",
	Long: `Starts the intake HTTP API. When inbox.dir (INBOX_DIR) is set, files
dropped into that directory are processed on a bounded worker pool as well.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr != "" {
			cfg.HTTP.Addr = addr
		}
		inbox, _ := cmd.Flags().GetString("inbox")
		if inbox != "" {
			cfg.Inbox.Dir = inbox
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides http.addr)")
	serveCmd.Flags().String("inbox", "", "drop-folder directory (overrides inbox.dir)")
}
