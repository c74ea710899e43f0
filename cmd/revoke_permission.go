package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var revokePermissionCmd = &cobra.Command{
	Use:   "revoke-permission",
	Short: "Revoke a standing spend permission",
	Long: `Revokes a spend permission locally and on the gas relayer. Revocation
fails closed: if the relayer cannot confirm the revocation the
permission stays revoked locally and the command reports the error.`,
	RunE: runRevokePermission,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(revokePermissionCmd)
	revokePermissionCmd.Flags().String("id", "", "Permission ID (required)")
	_ = revokePermissionCmd.MarkFlagRequired("id")
}

func runRevokePermission(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine("")
	if err != nil {
		return err
	}
	defer eng.close()

	id, _ := cmd.Flags().GetString("id")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err = eng.delegations.Revoke(ctx, id)
	if err != nil {
		return fmt.Errorf("revoke permission %s: %w", id, err)
	}

	fmt.Printf("Permission %s revoked.\n", id)
	return nil
}
