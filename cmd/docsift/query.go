package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/docsift/docsift/internal/output"
	"github.com/docsift/docsift/internal/platform"
)

var (
	queryPoll    bool
	queryCursor  string
	queryTimeout time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query <dql>",
	Short: "Run a DQL query against the org",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newPlatformClient()
		if err != nil {
			return err
		}

		opts := platform.QueryOptions{Cursor: queryCursor, Timeout: queryTimeout}
		if queryPoll {
			opts.Mode = "poll"
		}
		resp, err := client.QueryWith(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}

		if queryPoll {
			changes, err := resp.Changes()
			if err != nil {
				return err
			}
			return output.Print(map[string]any{
				"cursor": resp.Cursor,
				"data":   changes,
			})
		}
		rows, err := resp.Rows()
		if err != nil {
			return err
		}
		return output.Print(rows)
	},
}

func init() {
	queryCmd.Flags().BoolVar(&queryPoll, "poll", false, "long-poll for changes instead of running an ad-hoc query")
	queryCmd.Flags().StringVar(&queryCursor, "cursor", "", "resume a poll from this cursor")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 0, "server-side timeout for a poll request")
}
