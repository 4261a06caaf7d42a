package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/across/internal/auth"
)

// hashpwCmd produces a bcrypt hash suitable for ACROSS_ADMIN_PASSWORD.
func hashpwCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hashpw [password]",
		Short: "Hash a password for use as the admin credential",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				fmt.Print("Password: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if err := auth.ValidatePasswordStrength(password); err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
