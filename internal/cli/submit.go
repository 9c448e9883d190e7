package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/engine"
	"github.com/roach88/storyflow/internal/harness"
	"github.com/roach88/storyflow/internal/txn"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	DB         string
	MaxEntries int
}

// transactionFile is the wire form of a submitted transaction.
type transactionFile struct {
	Client  string      `json:"client"`
	Seq     int64       `json:"seq"`
	Entries []entryFile `json:"entries"`
}

type entryFile struct {
	Target string            `json:"target"`
	Base   int64             `json:"base"`
	Ops    []json.RawMessage `json:"ops"`
}

// EntryOutcome reports one submitted entry.
type EntryOutcome struct {
	Target   string `json:"target"`
	Outcome  string `json:"outcome"`
	Seq      int64  `json:"seq,omitempty"`
	Version  int64  `json:"version"`
	Replayed bool   `json:"replayed,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SubmitResult reports a submitted transaction.
type SubmitResult struct {
	Client   string         `json:"client"`
	Seq      int64          `json:"seq"`
	Entries  []EntryOutcome `json:"entries"`
	Accepted int            `json:"accepted"`
	Rejected int            `json:"rejected"`
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <transaction.json>",
		Short: "Submit a transaction to the engine",
		Long: `Submit a transaction read from a JSON file ("-" for stdin):

  {
    "client": "editor-1",
    "seq": 1,
    "entries": [
      {"target": "field:<field id>", "base": 1, "ops": [[0, 1, [5]]]},
      {"target": "config:<document id>", "ops": [["published", true]]}
    ]
  }

Each entry is applied independently. Entries built on a stale base version
are rejected as out of order; resubmitting a (client, seq) pair returns the
recorded result. A client id is generated when "client" is empty.

Exits 1 when any entry was rejected.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "path to SQLite database")
	cmd.Flags().IntVar(&opts.MaxEntries, "max-entries", engine.DefaultMaxEntries, "maximum entries per transaction")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSubmit(opts *SubmitOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	data, err := readInput(cmd, path)
	if err != nil {
		return formatter.CommandError(ErrCodeReadFailed, "reading transaction", err)
	}
	var tf transactionFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return formatter.CommandError(ErrCodeInvalidInput, "decoding transaction", err)
	}
	sub, err := decodeSubmission(tf)
	if err != nil {
		return formatter.CommandError(ErrCodeInvalidInput, "decoding transaction", err)
	}

	st, err := openStore(opts.DB, false)
	if err != nil {
		return formatter.CommandError(ErrCodeStoreFailed, "opening database", err)
	}
	defer st.Close()

	sess, err := startSession(ctx, st, engine.WithMaxEntries(opts.MaxEntries))
	if err != nil {
		return formatter.CommandError(ErrCodeStoreFailed, "starting engine", err)
	}
	if sub.ClientID == "" {
		sub.ClientID = sess.engine.NewClient()
	}
	results, err := sess.engine.Submit(ctx, sub)
	if closeErr := sess.close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return formatter.CommandError(ErrCodeGeneric, "submitting transaction", err)
	}

	result := SubmitResult{Client: sub.ClientID, Seq: sub.ClientSeq, Entries: make([]EntryOutcome, len(results))}
	for i, r := range results {
		out := EntryOutcome{
			Target:   r.Target,
			Outcome:  harness.Outcome(r),
			Seq:      r.Seq,
			Version:  r.Version,
			Replayed: r.Replayed,
		}
		if r.Err != nil {
			out.Error = r.Err.Error()
			result.Rejected++
		} else {
			result.Accepted++
		}
		result.Entries[i] = out
	}

	text := submitText(result)
	if result.Rejected > 0 {
		return formatter.Failure(ErrCodeRejected,
			fmt.Sprintf("%d of %d entries rejected", result.Rejected, len(result.Entries)), result, text)
	}
	return formatter.Success(result, text)
}

func decodeSubmission(tf transactionFile) (engine.Submission, error) {
	sub := engine.Submission{ClientID: tf.Client, ClientSeq: tf.Seq}
	for i, e := range tf.Entries {
		entry := txn.Entry{Target: e.Target}
		for j, raw := range e.Ops {
			op, err := txn.DecodeOperation(raw)
			if err != nil {
				return engine.Submission{}, fmt.Errorf("entries[%d].ops[%d]: %w", i, j, err)
			}
			entry.Operations = append(entry.Operations, op)
		}
		sub.Entries = append(sub.Entries, engine.EntryInput{Entry: entry, BaseVersion: e.Base})
	}
	return sub, nil
}

func submitText(r SubmitResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transaction %s/%d: %d accepted, %d rejected", r.Client, r.Seq, r.Accepted, r.Rejected)
	for _, e := range r.Entries {
		status := "✓"
		if e.Error != "" {
			status = "✗"
		}
		fmt.Fprintf(&b, "\n  %s %s  %s  v%d", status, e.Target, e.Outcome, e.Version)
		if e.Error != "" {
			fmt.Fprintf(&b, "  (%s)", e.Error)
		}
	}
	return b.String()
}
