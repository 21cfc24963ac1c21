package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harun/agentrelay/pkg/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var sessionsJSON bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted sessions",
	Long: `List the sessions recorded in the session database, newest first.
Reads the database directly and works while the service is stopped.`,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(sessionsCmd)
}

type sessionRow struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Messages  int       `json:"messages"`
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path, err := store.ResolvePath(
		expandHome(cfg.Storage.PreferredDir),
		expandHome(cfg.Storage.FallbackDir),
		cfg.Storage.FileName,
	)
	if err != nil {
		return err
	}

	st, err := store.Open(store.Config{Path: path, Logger: zerolog.Nop()})
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	records, err := st.ListSessions(ctx)
	if err != nil {
		return err
	}

	rows := make([]sessionRow, 0, len(records))
	for _, rec := range records {
		count, err := st.CountMessages(ctx, rec.ID)
		if err != nil {
			return err
		}
		rows = append(rows, sessionRow{
			ID:        rec.ID,
			CreatedAt: rec.CreatedAt,
			Status:    rec.Status,
			Provider:  rec.Options.Provider,
			Model:     rec.Options.Model,
			Messages:  count,
		})
	}

	out := cmd.OutOrStdout()
	if sessionsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintf(out, "No sessions in %s\n", path)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tPROVIDER\tMODEL\tMESSAGES")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Status, r.Provider, r.Model, r.Messages)
	}
	return tw.Flush()
}
