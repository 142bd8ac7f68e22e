package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// maxPollAttempts bounds how many poll requests a blocking wait may
// issue before giving up. Each attempt blocks server-side for the
// request timeout, so the effective ceiling is attempts x timeout.
const maxPollAttempts = 10

// DefaultPollTimeout is the server-side block per poll request.
const DefaultPollTimeout = 60 * time.Second

// PollInserts long-polls a DQL query until an insert has been observed
// for every uid in mustSee, and returns the inserted rows. The query must
// project a "uid" column. Exhausting the attempt ceiling returns
// ErrPollTimeout.
func (c *Client) PollInserts(ctx context.Context, query string, mustSee []string, timeout time.Duration) ([]json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	waiting := make(map[string]struct{}, len(mustSee))
	for _, uid := range mustSee {
		waiting[uid] = struct{}{}
	}

	var rows []json.RawMessage
	cursor := ""
	for attempt := 0; attempt < maxPollAttempts && len(waiting) > 0; attempt++ {
		resp, err := c.QueryWith(ctx, query, QueryOptions{Mode: "poll", Cursor: cursor, Timeout: timeout})
		if err != nil {
			return nil, err
		}
		changes, err := resp.Changes()
		if err != nil {
			return nil, err
		}
		for _, ch := range changes {
			if ch.Action != "insert" {
				continue
			}
			var row struct {
				UID string `json:"uid"`
			}
			if err := json.Unmarshal(ch.Data, &row); err != nil {
				return nil, fmt.Errorf("failed to decode poll row: %w", err)
			}
			if _, ok := waiting[row.UID]; !ok {
				return nil, fmt.Errorf("broken uid filter: unexpected %s", row.UID)
			}
			delete(waiting, row.UID)
			rows = append(rows, ch.Data)
		}
		cursor = resp.Cursor
	}

	if len(waiting) > 0 {
		missing := make([]string, 0, len(waiting))
		for uid := range waiting {
			missing = append(missing, uid)
		}
		return nil, fmt.Errorf("%w: still waiting on %s", ErrPollTimeout, strings.Join(missing, ", "))
	}
	return rows, nil
}

// QuoteList renders strings as a quoted, comma-separated DQL list,
// suitable for in() filters.
func QuoteList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, it := range items {
		quoted = append(quoted, fmt.Sprintf("%q", it))
	}
	return strings.Join(quoted, ", ")
}
