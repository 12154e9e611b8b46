package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/kryptograf/keymgmt"
)

const totpIssuer = "groundstation"

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate admin credentials for the config file",
	}
	cmd.AddCommand(newSecretPasswordCmd())
	cmd.AddCommand(newSecretTOTPCmd())
	return cmd
}

func newSecretPasswordCmd() *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Hash an admin password for admin.password_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := readPassword(cmd, fromStdin)
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "password_hash: %s\n", hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "password-from-stdin", false, "read the password from stdin")
	return cmd
}

func newSecretTOTPCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Generate a TOTP secret for admin.totp_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, url, err := generateTOTP(account)
			if err != nil {
				return err
			}
			printTOTPEnrollment(cmd.OutOrStdout(), secret, url)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "admin", "account name shown in the authenticator app")
	return cmd
}

func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		pass := strings.TrimSpace(string(data))
		if pass == "" {
			return "", errors.New("password from stdin is empty")
		}
		return pass, nil
	}
	passphrase, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "Password: ", cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	confirm, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "Confirm password: ", cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	if string(passphrase) != string(confirm) {
		return "", errors.New("passwords do not match")
	}
	pass := string(passphrase)
	if pass == "" {
		return "", errors.New("password is empty")
	}
	return pass, nil
}

func generateTOTP(account string) (string, string, error) {
	if strings.TrimSpace(account) == "" {
		account = "admin"
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

func printTOTPEnrollment(w io.Writer, secret, url string) {
	_, _ = fmt.Fprintf(w, "totp_secret: %s\n", secret)
	_, _ = fmt.Fprintf(w, "otpauth_url: %s\n", url)
	_, _ = fmt.Fprintln(w, "totp_qr:")
	qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
}
