package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/store"
	"github.com/roach88/storyflow/internal/txn"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	DB     string
	Target string // only entries for this target
	Client string // only entries from this client
}

// LogRecord is one accepted entry as printed.
type LogRecord struct {
	Seq         int64           `json:"seq"`
	Target      string          `json:"target"`
	Client      string          `json:"client"`
	ClientSeq   int64           `json:"client_seq"`
	BaseVersion int64           `json:"base_version"`
	Version     int64           `json:"version"`
	Operations  []txn.Operation `json:"operations"`
	Hash        string          `json:"hash"`
}

// LogOutput is the filtered log.
type LogOutput struct {
	Entries []LogRecord `json:"entries"`
	Total   int         `json:"total"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "List accepted transaction entries",
		Long: `List the accepted entries of the transaction log in seq order.

Examples:
  storyflow log --db cms.db
  storyflow log --db cms.db --target field:<field id>
  storyflow log --db cms.db --client editor-1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Target, "target", "", "filter by target name")
	cmd.Flags().StringVar(&opts.Client, "client", "", "filter by client id")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(opts.DB, false)
	if err != nil {
		return formatter.CommandError(ErrCodeStoreFailed, "opening database", err)
	}
	defer st.Close()

	entries, err := st.ReadLog(cmd.Context())
	if err != nil {
		return formatter.CommandError(ErrCodeStoreFailed, "reading log", err)
	}

	out := LogOutput{Entries: []LogRecord{}}
	for _, e := range filterLog(entries, opts.Target, opts.Client) {
		out.Entries = append(out.Entries, LogRecord{
			Seq:         e.Seq,
			Target:      e.Target,
			Client:      e.ClientID,
			ClientSeq:   e.ClientSeq,
			BaseVersion: e.BaseVersion,
			Version:     e.Version,
			Operations:  e.Operations,
			Hash:        e.Hash,
		})
	}
	out.Total = len(out.Entries)

	if out.Total == 0 {
		return formatter.Success(out, "No entries found.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d entries:", out.Total)
	for _, e := range out.Entries {
		fmt.Fprintf(&b, "\n  #%d %s v%d->v%d  %s/%d  %d op(s)",
			e.Seq, e.Target, e.BaseVersion, e.Version, e.Client, e.ClientSeq, len(e.Operations))
	}
	return formatter.Success(out, b.String())
}

func filterLog(entries []store.LogEntry, target, client string) []store.LogEntry {
	var out []store.LogEntry
	for _, e := range entries {
		if target != "" && e.Target != target {
			continue
		}
		if client != "" && e.ClientID != client {
			continue
		}
		out = append(out, e)
	}
	return out
}
