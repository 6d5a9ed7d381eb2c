package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bmr-systems/bmr-admin/internal/auth"
	"github.com/bmr-systems/bmr-admin/pkg/output"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  "Sign in to a BMR deployment and manage the stored session",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to BMR",
	Long:  "Authenticate with email and password and store the session for the profile",
	RunE: withSession(false, func(cmd *cobra.Command, args []string, s *session) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		if email == "" {
			return fmt.Errorf("email is required")
		}
		if password == "" {
			pw, err := promptPassword(cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = pw
		}

		sess, err := s.auth.Login(cmd.Context(), email, password)
		if err != nil {
			return err
		}

		if err := cfg.SaveProfile(s.profile, s.baseURL); err != nil {
			output.Warn("Could not save profile: %v", err)
		}

		output.Success("Logged in as %s", displayUser(sess.User, email))
		output.Info("Profile '%s' points at %s", s.profile, s.baseURL)
		return nil
	}),
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out from BMR",
	Long:  "Revoke the refresh token and remove the stored session",
	RunE: withSession(false, func(cmd *cobra.Command, args []string, s *session) error {
		s.auth.Logout(cmd.Context())
		output.Success("Logged out from profile '%s'", s.profile)
		return nil
	}),
}

var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Display current user information",
	Long:  "Fetch the profile of the signed-in user",
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		user, err := s.auth.FetchCurrentUser(cmd.Context())
		if err != nil {
			return err
		}
		if done, err := output.Structured(s.format, user); done {
			return err
		}

		output.Fields([][2]string{
			{"ID", fmt.Sprint(user.ID)},
			{"Email", user.Email},
			{"Name", user.DisplayName()},
			{"Role", user.Role()},
			{"Group", user.GroupName},
			{"Active", yesNo(user.IsActive)},
			{"Verified", yesNo(user.IsEmailVerified)},
			{"Permissions", strings.Join(user.Permissions, ", ")},
		})
		return nil
	}),
}

var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the access token",
	RunE: withSession(false, func(cmd *cobra.Command, args []string, s *session) error {
		if _, err := s.auth.Refresh(cmd.Context()); err != nil {
			return err
		}
		remaining, _ := s.auth.TimeRemaining(cmd.Context())
		output.Success("Access token refreshed, valid for %s", remaining.Round(time.Second))
		return nil
	}),
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session state",
	RunE: withSession(false, func(cmd *cobra.Command, args []string, s *session) error {
		ctx := cmd.Context()
		status := struct {
			Profile       string `json:"profile"`
			BaseURL       string `json:"base_url"`
			Store         string `json:"store"`
			Authenticated bool   `json:"authenticated"`
			Expires       string `json:"expires_in,omitempty"`
			User          string `json:"user,omitempty"`
			Role          string `json:"role"`
		}{
			Profile:       s.profile,
			BaseURL:       s.baseURL,
			Store:         cfg.Store.Backend,
			Authenticated: s.auth.IsAuthenticated(ctx),
			Role:          s.auth.Role(ctx),
		}
		if remaining, ok := s.auth.TimeRemaining(ctx); ok {
			status.Expires = remaining.Round(time.Second).String()
		}
		if u := s.auth.CurrentUser(ctx); u != nil {
			status.User = u.Email
		}
		if done, err := output.Structured(s.format, status); done {
			return err
		}

		output.Fields([][2]string{
			{"Profile", status.Profile},
			{"API", status.BaseURL},
			{"Store", status.Store},
			{"Authenticated", yesNo(status.Authenticated)},
			{"Expires in", status.Expires},
			{"User", status.User},
			{"Role", status.Role},
		})
		return nil
	}),
}

func displayUser(u *auth.User, fallback string) string {
	if name := u.DisplayName(); name != "" {
		return name
	}
	return fallback
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authWhoamiCmd, authRefreshCmd, authStatusCmd)

	authLoginCmd.Flags().StringP("email", "e", "", "account email")
	authLoginCmd.Flags().StringP("password", "p", "", "password (prompted when omitted)")
}
