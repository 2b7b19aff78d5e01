package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Manage account recovery",
}

var recoverySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the recovery secret of the logged in account",
	Args:  cobra.NoArgs,
	RunE:  setRecoverySecret,
}

var recoverCmd = &cobra.Command{
	Use:   "recover [username]",
	Short: "Recover the master password with the recovery secret",
	Args:  cobra.ExactArgs(1),
	RunE:  recoverAccount,
}

func init() {
	recoveryCmd.AddCommand(recoverySetCmd, recoverCmd)
	rootCmd.AddCommand(recoveryCmd)
}

func setRecoverySecret(cmd *cobra.Command, args []string) error {
	masterPassword, err := readSecret("Master password: ")
	if err != nil {
		return err
	}
	secret, err := readNewSecret("Recovery secret: ")
	if err != nil {
		return err
	}

	if err := app.account.SetRecoverySecret(cmd.Context(), "", "", secret, masterPassword); err != nil {
		return err
	}
	fmt.Println("Recovery secret set. Keep it somewhere safe, it is the only way back into your vault.")
	return nil
}

func recoverAccount(cmd *cobra.Command, args []string) error {
	secret, err := readSecret("Recovery secret: ")
	if err != nil {
		return err
	}

	password, err := app.account.Recover(cmd.Context(), args[0], secret)
	if err != nil {
		return err
	}

	show, err := readValue("Recovered. Print the master password? [y/N]: ")
	if err != nil {
		return err
	}
	if show == "y" || show == "Y" {
		fmt.Println(password)
	}
	fmt.Printf("Log in again with: vaultctl login %s\n", args[0])
	return nil
}
