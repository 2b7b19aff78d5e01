package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register [username]",
	Short: "Create an account, confirm 2FA and set the recovery secret",
	Args:  cobra.ExactArgs(1),
	RunE:  register,
}

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in and set up the vault key on this device",
	Args:  cobra.ExactArgs(1),
	RunE:  login,
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Re-derive the vault key for the current session",
	Args:  cobra.NoArgs,
	RunE:  unlock,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the vault key and the session from this device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.account.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local session state",
	Args:  cobra.NoArgs,
	RunE:  status,
}

var twoFACode string

func init() {
	loginCmd.Flags().StringVar(&twoFACode, "2fa", "", "one-time code from your authenticator")

	rootCmd.AddCommand(registerCmd, loginCmd, unlockCmd, logoutCmd, statusCmd)
}

func register(cmd *cobra.Command, args []string) error {
	password, err := readNewSecret("Master password: ")
	if err != nil {
		return err
	}

	registration, err := app.account.Register(cmd.Context(), args[0], password)
	if err != nil {
		return err
	}

	fmt.Println(registration.Message)
	fmt.Println("Add this URI to your authenticator app:")
	fmt.Println(registration.URI)

	// the server deletes accounts that log in before both steps are done
	if _, err := readValue("Press Enter once the authenticator shows a code: "); err != nil {
		return err
	}
	if err := app.account.ConfirmTwoFactor(cmd.Context(), args[0]); err != nil {
		return err
	}

	secret, err := readNewSecret("Recovery secret: ")
	if err != nil {
		return err
	}
	if err := app.account.SetRecoverySecret(cmd.Context(), args[0], registration.Salt, secret, password); err != nil {
		return err
	}

	fmt.Println("Recovery secret set. Keep it somewhere safe, it is the only way back into your vault.")
	fmt.Printf("Log in with: vaultctl login %s --2fa <code>\n", args[0])
	return nil
}

func login(cmd *cobra.Command, args []string) error {
	password, err := readSecret("Master password: ")
	if err != nil {
		return err
	}

	if err := app.account.Login(cmd.Context(), args[0], password, twoFACode); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", args[0])
	return nil
}

func unlock(cmd *cobra.Command, args []string) error {
	password, err := readSecret("Master password: ")
	if err != nil {
		return err
	}
	if err := app.account.Unlock(cmd.Context(), password); err != nil {
		return err
	}
	fmt.Println("Vault unlocked")
	return nil
}

func status(cmd *cobra.Command, args []string) error {
	st, err := app.account.Status()
	if err != nil {
		return err
	}

	username := st.Username
	if username == "" {
		username = "-"
	}
	fmt.Printf("Server:     %s\n", app.config.ServerURL)
	fmt.Printf("User:       %s\n", username)
	fmt.Printf("Logged in:  %t\n", st.LoggedIn)
	fmt.Printf("Key stored: %t\n", st.KeyResident)
	return nil
}
