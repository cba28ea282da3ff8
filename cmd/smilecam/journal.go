package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"smilecam/internal/events"
	"smilecam/internal/types"
)

var errLimitReached = errors.New("limit reached")

var journalOpts struct {
	Path  string
	Limit int
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect event journals",
}

var journalDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print journal records as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dumpJournal(cmd.OutOrStdout(), journalOpts.Path, journalOpts.Limit)
	},
}

func init() {
	journalDumpCmd.Flags().StringVar(&journalOpts.Path, "path", "", "Path to a journal .bin file")
	journalDumpCmd.Flags().IntVar(&journalOpts.Limit, "limit", 0, "Number of records to print (0 prints all)")
	_ = journalDumpCmd.MarkFlagRequired("path")
	journalCmd.AddCommand(journalDumpCmd)
	rootCmd.AddCommand(journalCmd)
}

func dumpJournal(w io.Writer, path string, limit int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	count := 0
	err = events.ReadJournal(f, func(rec events.Record) error {
		if limit > 0 && count >= limit {
			return errLimitReached
		}
		count++
		return enc.Encode(struct {
			Index int         `json:"index"`
			Time  time.Time   `json:"time"`
			Size  int         `json:"size"`
			Event types.Event `json:"event"`
		}{count - 1, rec.Time, rec.Size, rec.Event})
	})
	if errors.Is(err, errLimitReached) {
		return nil
	}
	return err
}
