/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/playbell/apiserver/internal/server"
	"github.com/spf13/cobra"
)

var superadminPassword string

// superadminCmd represents the superadmin command.
var superadminCmd = &cobra.Command{
	Use:   "superadmin",
	Short: "Manage the superadmin account",
	Long: `Manage the superadmin account directly in the configured store.

Stop the server before running these commands. Writes are serialized per
collection only inside one process, so a change made here while the server
is running can be overwritten by the server's next write to the accounts
collection, or can overwrite it.`,
}

var superadminEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the superadmin account if none exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		password := superadminPassword
		if password == "" {
			password = cfg.Auth.SuperadminPassword
		}
		if password == "" {
			return errors.New("a password is required (--password or SUPERADMIN_PASSWORD)")
		}

		st, closeStore, err := server.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		created, err := server.NewAccountService(cfg, st, nil).EnsureSuperadmin(cmd.Context(), cfg.Auth.SuperadminUsername, password)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "created superadmin %q\n", cfg.Auth.SuperadminUsername)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "a superadmin already exists")
		}
		return nil
	},
}

var superadminResetCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Reset the superadmin password",
	RunE: func(cmd *cobra.Command, args []string) error {
		if superadminPassword == "" {
			return errors.New("--password is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, closeStore, err := server.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		account, err := server.NewAccountService(cfg, st, nil).ResetSuperadminPassword(cmd.Context(), superadminPassword)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "password reset for %q\n", account.Username)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(superadminCmd)
	superadminCmd.PersistentFlags().StringVarP(&superadminPassword, "password", "p", "", "new superadmin password")
	superadminCmd.AddCommand(superadminEnsureCmd)
	superadminCmd.AddCommand(superadminResetCmd)
}
