package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-posemusic/pkg/session"
)

var (
	reportSessionID string
	reportHTML      string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize a recorded session's performance",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sess, err := resolveSession(ctx, store, reportSessionID)
		if err != nil {
			return err
		}
		rep, err := session.BuildReport(ctx, store, sess.ID)
		if err != nil {
			return err
		}
		if err := rep.WriteText(os.Stdout); err != nil {
			return err
		}

		if reportHTML == "" {
			return nil
		}
		f, err := os.Create(reportHTML)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		if err := rep.RenderHTML(f); err != nil {
			return err
		}
		fmt.Printf("📈 charts written to %s\n", reportHTML)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportSessionID, "session", "latest", "session id, or latest")
	reportCmd.Flags().StringVar(&reportHTML, "html", "", "also write FPS and latency charts to this HTML file")
	rootCmd.AddCommand(reportCmd)
}
