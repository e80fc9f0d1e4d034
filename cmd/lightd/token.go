package main

import (
	"context"
	"fmt"
	"time"

	"github.com/melih/lightd/internal/storage"
	"github.com/melih/lightd/internal/tokens"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate temporary auth tokens",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Issue a new temporary token",
	RunE:  runTokenGenerate,
}

func init() {
	tokenCmd.AddCommand(tokenGenerateCmd)
	tokenGenerateCmd.Flags().String("db", "/var/lib/lightd/lightd.db", "path to the lightd storage file")
	tokenGenerateCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	tokenGenerateCmd.Flags().Bool("remove-on-use", false, "invalidate the token after its first successful validation")
}

func runTokenGenerate(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	removeOnUse, _ := cmd.Flags().GetBool("remove-on-use")

	db, err := storage.Open(dbPath, "tokens")
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	mgr := tokens.NewManager(db)
	token, err := mgr.Generate(context.Background(), ttl, removeOnUse)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	fmt.Println(token)
	return nil
}
