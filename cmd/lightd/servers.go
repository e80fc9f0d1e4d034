package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/melih/lightd/internal/containerstore"
	"github.com/melih/lightd/internal/storage"
	"github.com/spf13/cobra"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Inspect container records without going through the HTTP API",
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known container record",
	RunE:  runServersList,
}

func init() {
	serversCmd.AddCommand(serversListCmd)
	serversListCmd.Flags().String("db", "/var/lib/lightd/lightd.db", "path to the lightd storage file")
}

func runServersList(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")

	db, err := storage.Open(dbPath, "containers")
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	store := containerstore.New(db)
	recs, err := store.List(context.Background())
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INTERNAL_ID\tIMAGE\tINSTALL\tRUNTIME\tDOCKER_ID")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", rec.InternalID, rec.Image, rec.InstallState, rec.RuntimeState, rec.DockerID)
	}
	return w.Flush()
}
