package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pquerna/otp"
	"github.com/spf13/cobra"

	iauth "github.com/charlesng35/estatedir/internal/auth"
	"github.com/charlesng35/estatedir/internal/models"
)

func newUserCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage directory accounts",
	}
	cmd.AddCommand(
		newUserAddCmd(root),
		newUserPasswdCmd(root),
		newUserActiveCmd(root, "disable", false),
		newUserActiveCmd(root, "enable", true),
		newUserOTPCmd(root),
	)
	return cmd
}

type otpFlags struct {
	enabled bool
	secret  string
	qrPath  string
}

func (f *otpFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.secret, "otp-secret", "", "Base32 TOTP secret to install instead of generating one")
	cmd.Flags().StringVar(&f.qrPath, "qr", "", "Write the provisioning QR code as PNG to this file")
}

func newUserAddCmd(root *rootOptions) *cobra.Command {
	var (
		password    string
		displayName string
		otpOpts     otpFlags
	)

	cmd := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			pw, err := resolvePassword(cmd, password)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			local, otpSvc, err := env.accounts(ctx)
			if err != nil {
				return err
			}
			user, err := local.CreateUser(ctx, iauth.CreateUserInput{
				Username:    args[0],
				DisplayName: displayName,
				Password:    pw,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.Username, user.ID)

			if !otpOpts.enabled && otpOpts.secret == "" {
				return nil
			}
			return provisionOTP(ctx, cmd.OutOrStdout(), otpSvc, user, otpOpts)
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password; read from stdin when omitted")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Name shown in the interface")
	cmd.Flags().BoolVar(&otpOpts.enabled, "otp", false, "Provision a TOTP secret for the account")
	otpOpts.bind(cmd)
	return cmd
}

func newUserPasswdCmd(root *rootOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "passwd USERNAME",
		Short: "Replace an account password and clear any lockout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			pw, err := resolvePassword(cmd, password)
			if err != nil {
				return err
			}
			local, _, err := env.accounts(cmd.Context())
			if err != nil {
				return err
			}
			if err := local.SetPassword(cmd.Context(), args[0], pw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password; read from stdin when omitted")
	return cmd
}

func newUserActiveCmd(root *rootOptions, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " USERNAME",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			local, _, err := env.accounts(ctx)
			if err != nil {
				return err
			}
			user, err := local.SetActive(ctx, args[0], active)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if active {
				fmt.Fprintf(out, "enabled %s\n", user.Username)
				return nil
			}

			sessions, err := env.sessions()
			if err != nil {
				return err
			}
			revoked, err := sessions.RevokeUserSessions(ctx, user.ID)
			if err != nil {
				return fmt.Errorf("revoke sessions: %w", err)
			}
			fmt.Fprintf(out, "disabled %s, revoked %d session(s)\n", user.Username, revoked)
			return nil
		},
	}
}

func newUserOTPCmd(root *rootOptions) *cobra.Command {
	var otpOpts otpFlags

	cmd := &cobra.Command{
		Use:   "otp USERNAME",
		Short: "Provision or replace the TOTP secret of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			local, otpSvc, err := env.accounts(ctx)
			if err != nil {
				return err
			}
			user, err := local.FindUser(ctx, args[0])
			if err != nil {
				return err
			}
			return provisionOTP(ctx, cmd.OutOrStdout(), otpSvc, user, otpOpts)
		},
	}

	otpOpts.bind(cmd)
	return cmd
}

func provisionOTP(ctx context.Context, out io.Writer, svc *iauth.OTPService, user *models.User, opts otpFlags) error {
	key, err := svc.Provision(ctx, user, opts.secret)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "otp secret: %s\n", key.Secret())
	fmt.Fprintf(out, "otp uri:    %s\n", key.URL())

	if opts.qrPath == "" {
		return nil
	}
	return writeQRCode(svc, key, opts.qrPath, out)
}

func writeQRCode(svc *iauth.OTPService, key *otp.Key, path string, out io.Writer) error {
	png, err := svc.QRCode(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, png, 0o600); err != nil {
		return fmt.Errorf("write qr code: %w", err)
	}
	fmt.Fprintf(out, "qr code written to %s\n", path)
	return nil
}

func resolvePassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password is required (use --password or pipe it on stdin)")
	}
	return pw, nil
}
