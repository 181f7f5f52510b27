package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlesng35/estatedir/internal/directory"
	"github.com/charlesng35/estatedir/internal/sheets"
)

func newSheetsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Read the published spreadsheet directly",
	}
	cmd.AddCommand(newSheetsFetchCmd(root), newSheetsProbeCmd(root))
	return cmd
}

func newSheetsFetchCmd(root *rootOptions) *cobra.Command {
	var (
		format string
		parse  bool
	)

	cmd := &cobra.Command{
		Use:   "fetch SHEET",
		Short: "Download one sheet (companies, projects, places, users) as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sheet, err := sheets.ParseSheet(args[0])
			if err != nil {
				return err
			}

			env, err := openEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			client, err := env.sheetsClient()
			if err != nil {
				return err
			}
			text, err := client.FetchCSV(cmd.Context(), sheet, format)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !parse {
				_, err := io.WriteString(out, text)
				return err
			}
			return printParsed(out, sheet, text, time.Now().UTC())
		},
	}

	cmd.Flags().StringVar(&format, "format", sheets.FormatCSV, "Export format: csv or tq")
	cmd.Flags().BoolVar(&parse, "parse", false, "Print the typed records as JSON instead of raw CSV")
	return cmd
}

func printParsed(out io.Writer, sheet sheets.Sheet, text string, fetchedAt time.Time) error {
	var (
		records any
		err     error
	)
	switch sheet {
	case sheets.Companies:
		records, err = directory.ParseCompanies(text, fetchedAt)
	case sheets.Projects:
		records, err = directory.ParseProjects(text, fetchedAt)
	case sheets.Places:
		records, err = directory.ParsePlaces(text, fetchedAt)
	default:
		return fmt.Errorf("sheet %q has no typed form", sheet)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func newSheetsProbeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check whether the spreadsheet host answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			client, err := env.sheetsClient()
			if err != nil {
				return err
			}
			if err := client.Probe(cmd.Context()); err != nil {
				return fmt.Errorf("spreadsheet unreachable: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "spreadsheet reachable")
			return nil
		},
	}
}
