package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/movinesta/movinesta-cli/internal/config"
	"github.com/movinesta/movinesta-cli/internal/validation"
)

// newAuthCmd returns the auth command with subcommands
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "auth",
		Aliases: []string{"au"},
		Short:   "Manage authentication credentials",
		Long:    "Configure and manage MoviNesta API credentials stored securely in your OS keychain.",
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthProfilesCmd())
	cmd.AddCommand(newAuthUseCmd())

	return cmd
}

// newAuthLoginCmd creates the auth login command
func newAuthLoginCmd() *cobra.Command {
	var (
		url         string
		anonKey     string
		accessToken string
		userID      string
		bucket      string
		profile     string
		envFile     string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save credentials to the OS keychain",
		Long: strings.TrimSpace(`
Save MoviNesta credentials securely to your OS keychain.

You'll need:
- Base URL: Your project URL (e.g. https://project.movinesta.example)
- Anon Key: The project's public API key
- Access Token: Your user access token (JWT)
- User ID: Your user id (UUID), used as the sender on outgoing messages

Optional:
- Bucket: Attachment bucket name (defaults to chat-media)
- Profile: Save multiple accounts and switch between them
`),
		Example: strings.TrimSpace(`
  # Login with flags
  movinesta auth login --url https://project.movinesta.example --anon-key KEY --access-token TOKEN --user-id UUID

  # Save to a named profile
  movinesta auth login --url https://project.movinesta.example --anon-key KEY --profile staging

  # Load credentials from a .env file
  movinesta auth login --env-file .env
`),
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			if envFile != "" {
				envVars, err := loadAuthEnvFile(envFile)
				if err != nil {
					return err
				}
				applyAuthEnvFileRuntimeVars(envVars)

				if url == "" {
					url = strings.TrimSpace(envVars["MOVINESTA_BASE_URL"])
				}
				if anonKey == "" {
					anonKey = strings.TrimSpace(envVars["MOVINESTA_ANON_KEY"])
				}
				if accessToken == "" {
					accessToken = strings.TrimSpace(envVars["MOVINESTA_ACCESS_TOKEN"])
				}
				if userID == "" {
					userID = strings.TrimSpace(envVars["MOVINESTA_USER_ID"])
				}
				if bucket == "" {
					bucket = strings.TrimSpace(envVars["MOVINESTA_BUCKET"])
				}
				if !cmd.Flags().Changed("profile") {
					if envProfile := strings.TrimSpace(envVars["MOVINESTA_PROFILE"]); envProfile != "" {
						profile = envProfile
					}
				}
			}

			if url == "" {
				return fmt.Errorf("--url is required")
			}
			if anonKey == "" {
				return fmt.Errorf("--anon-key is required")
			}
			if userID != "" {
				if err := validation.ValidateUUID(userID, "user id"); err != nil {
					return err
				}
			}

			url = strings.TrimSuffix(url, "/")

			// Validate URL to prevent SSRF attacks
			if err := validation.ValidateBaseURL(url); err != nil {
				return fmt.Errorf("invalid URL: %w", err)
			}

			account := config.Account{
				BaseURL:     url,
				AnonKey:     anonKey,
				AccessToken: accessToken,
				UserID:      userID,
				Bucket:      bucket,
			}

			if err := config.SaveProfile(profile, account); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Credentials saved successfully!")
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  Base URL: %s\n", url)
			if userID != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  User ID: %s\n", userID)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  Bucket: %s\n", account.AttachmentBucket())
			if profile != "" && profile != "default" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  Profile: %s\n", profile)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&url, "url", "", "Base URL (e.g. https://project.movinesta.example)")
	cmd.Flags().StringVar(&anonKey, "anon-key", "", "Public API key")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "User access token (JWT)")
	cmd.Flags().StringVar(&userID, "user-id", "", "User id (UUID)")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Attachment bucket (default chat-media)")
	cmd.Flags().StringVar(&profile, "profile", "default", "Profile name to save credentials under")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load MOVINESTA_* (and optional MN_KEYRING_*) values from a .env file")
	flagAlias(cmd.Flags(), "url", "ur")
	flagAlias(cmd.Flags(), "anon-key", "ak")
	flagAlias(cmd.Flags(), "access-token", "at")
	flagAlias(cmd.Flags(), "user-id", "uid")
	flagAlias(cmd.Flags(), "profile", "pf")
	flagAlias(cmd.Flags(), "env-file", "env")

	return cmd
}

func loadAuthEnvFile(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("--env-file requires a file path")
	}

	envVars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read --env-file %q: %w", path, err)
	}

	return envVars, nil
}

// applyAuthEnvFileRuntimeVars copies keyring/runtime settings from --env-file
// into process environment when they are not already exported.
func applyAuthEnvFileRuntimeVars(envVars map[string]string) {
	keys := []string{
		"MN_KEYRING_BACKEND",
		"MN_KEYRING_PASSWORD",
		"MN_CREDENTIALS_DIR",
		"MOVINESTA_KEYRING_BACKEND",
		"MOVINESTA_KEYRING_PASSWORD",
		"MOVINESTA_CREDENTIALS_DIR",
	}

	for _, key := range keys {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		value := strings.TrimSpace(envVars[key])
		if value == "" {
			continue
		}
		_ = os.Setenv(key, value)
	}
}

// newAuthStatusCmd creates the auth status command
func newAuthStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show current authentication configuration",
		Long:  "Display the currently saved configuration (keys and tokens are masked).",
		Example: strings.TrimSpace(`
  # Check authentication status
  movinesta auth status

  # JSON output for scripting
  movinesta auth status --json
`),
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			envBaseURL := strings.TrimSpace(os.Getenv("MOVINESTA_BASE_URL"))
			envAnonKey := strings.TrimSpace(os.Getenv("MOVINESTA_ANON_KEY"))
			usingEnv := envBaseURL != "" || envAnonKey != ""

			account, err := config.LoadAccount()
			if err != nil {
				if err == config.ErrNotConfigured {
					if isJSON(cmd) {
						return printJSON(cmd, map[string]any{
							"authenticated": false,
							"message":       "Not authenticated. Run 'movinesta auth login' to configure credentials.",
						})
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Not authenticated.")
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Run 'movinesta auth login' to configure credentials.")
					return nil
				}
				return fmt.Errorf("failed to load credentials: %w", err)
			}

			var profile string
			if !usingEnv {
				if current, err := config.CurrentProfile(); err == nil {
					profile = current
				}
			}

			if isJSON(cmd) {
				payload := map[string]any{
					"authenticated": true,
					"base_url":      account.BaseURL,
					"user_id":       account.UserID,
					"anon_key":      maskToken(account.AnonKey),
					"access_token":  maskToken(account.AccessToken),
					"bucket":        account.AttachmentBucket(),
					"source":        map[bool]string{true: "env", false: "keychain"}[usingEnv],
				}
				if profile != "" {
					payload["profile"] = profile
				}
				return printJSON(cmd, payload)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Authenticated")
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  Base URL: %s\n", account.BaseURL)
			if account.UserID != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  User ID: %s\n", account.UserID)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  Anon Key: %s\n", maskToken(account.AnonKey))
			if account.AccessToken != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  Access Token: %s\n", maskToken(account.AccessToken))
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  Bucket: %s\n", account.AttachmentBucket())
			if profile != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  Profile: %s\n", profile)
			}
			if usingEnv {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "  Source: env")
			}

			return nil
		}),
	}

	return cmd
}

// newAuthLogoutCmd creates the auth logout command
func newAuthLogoutCmd() *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove credentials from keychain",
		Long:  "Delete the stored credentials from your OS keychain.",
		Example: strings.TrimSpace(`
  # Remove stored credentials
  movinesta auth logout
`),
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			if profile == "" {
				current, err := config.CurrentProfile()
				if err == nil {
					profile = current
				}
			}

			if profile == "" && !config.HasAccount() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No credentials found.")
				return nil
			}

			if err := config.DeleteProfile(profile); err != nil {
				return fmt.Errorf("failed to remove credentials: %w", err)
			}

			if profile == "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Credentials removed successfully.")
			} else {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Profile %s removed successfully.\n", profile)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&profile, "profile", "", "Profile name to remove (defaults to current)")
	flagAlias(cmd.Flags(), "profile", "pf")

	return cmd
}

// newAuthProfilesCmd lists saved profiles.
func newAuthProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List saved profiles",
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			profiles, err := config.ListProfiles()
			if err != nil {
				return fmt.Errorf("failed to list profiles: %w", err)
			}
			current, _ := config.CurrentProfile()

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{
					"profiles": profiles,
					"current":  current,
				})
			}
			if len(profiles) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No profiles saved.")
				return nil
			}
			for _, p := range profiles {
				marker := " "
				if p == current {
					marker = "*"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, p)
			}
			return nil
		}),
	}
}

// newAuthUseCmd switches the current profile.
func newAuthUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <profile>",
		Short: "Switch to a saved profile",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			profile := strings.TrimSpace(args[0])
			if _, err := config.LoadProfile(profile); err != nil {
				return fmt.Errorf("profile %q not found: %w", profile, err)
			}
			if err := config.SetCurrentProfile(profile); err != nil {
				return fmt.Errorf("failed to switch profile: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Switched to profile %s.\n", profile)
			return nil
		}),
	}
}

// maskToken masks a secret for display, showing only first and last 4 characters
func maskToken(token string) string {
	if len(token) < 8 {
		return strings.Repeat("*", len(token)) // Match actual length
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
