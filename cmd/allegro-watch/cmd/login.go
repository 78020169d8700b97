package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Force a fresh interactive sign-in",
	Long: "Opens the authorization page in your browser and exchanges the returned " +
		"code for tokens, replacing whatever token state is stored.",
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(c *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := a.auth.SignIn(ctx); err != nil {
		return err
	}

	fmt.Println("Signed in.")
	return nil
}
