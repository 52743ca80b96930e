package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clankbot/clank/internal/auth"
	"github.com/clankbot/clank/internal/logging"
	"github.com/clankbot/clank/internal/profile"
	"github.com/clankbot/clank/internal/version"
	"github.com/clankbot/clank/store"
	"github.com/clankbot/clank/store/db"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Run the OAuth consent flow and store the bot credential.",
	Long: `Opens the Twitch consent flow for first-time setup: prints the
authorization URL, waits for the redirected URL to be pasted back,
exchanges the code and stores the encrypted credential. An existing
credential is replaced.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p := &profile.Profile{
			Driver:    viper.GetString("driver"),
			DSN:       viper.GetString("dsn"),
			LogLevel:  viper.GetString("log-level"),
			LogFormat: viper.GetString("log-format"),
			Version:   version.String(),
		}
		p.FromEnv()
		if p.TwitchClientID == "" || p.TwitchClientSecret == "" {
			return fmt.Errorf("TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET are required")
		}
		redirectURI, err := cmd.Flags().GetString("redirect-uri")
		if err != nil {
			return err
		}
		return runAuth(p, redirectURI)
	},
}

func init() {
	authCmd.Flags().String("redirect-uri", "http://localhost:3000", "OAuth redirect URI registered with the Twitch application")
	rootCmd.AddCommand(authCmd)
}

func runAuth(p *profile.Profile, redirectURI string) error {
	logging.Init(logging.FromStrings(p.LogLevel, p.LogFormat))
	ctx := context.Background()

	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	st := store.New(dbDriver, p, logging.For("store"))
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	key, err := auth.EnsureKey(p.TokenEncryptionKey, logging.For("auth"))
	if err != nil {
		return err
	}
	oauthClient := auth.NewOAuthClient(p.TwitchClientID, p.TwitchClientSecret)
	authMgr := auth.NewManager(st, oauthClient, key, logging.For("auth"))

	consentURL, state := oauthClient.AuthorizationURL(redirectURI)
	fmt.Println("Open this URL in a browser and authorize the bot account:")
	fmt.Println()
	fmt.Println("  " + consentURL)
	fmt.Println()
	fmt.Print("Paste the full URL you were redirected to: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read redirect URL: %w", err)
	}
	code, err := parseAuthRedirect(strings.TrimSpace(line), state)
	if err != nil {
		return err
	}

	tok, err := oauthClient.Exchange(ctx, code, redirectURI)
	if err != nil {
		return err
	}

	// The consent flow replaces whatever credential is stored.
	if err := st.DeleteAuthToken(ctx); err != nil {
		return fmt.Errorf("clear previous credential: %w", err)
	}
	if err := authMgr.Bootstrap(ctx, tok.AccessToken, tok.RefreshToken); err != nil {
		return err
	}

	fmt.Printf("Credential stored for %s.\n", authMgr.GetBotUsername())
	return nil
}

// parseAuthRedirect extracts the authorization code from the pasted
// redirect URL, rejecting a state mismatch.
func parseAuthRedirect(redirect, wantState string) (string, error) {
	u, err := url.Parse(redirect)
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	q := u.Query()
	if errCode := q.Get("error"); errCode != "" {
		return "", fmt.Errorf("authorization denied: %s (%s)", errCode, q.Get("error_description"))
	}
	if got := q.Get("state"); got != wantState {
		return "", fmt.Errorf("state mismatch: consent response does not belong to this attempt")
	}
	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect URL carries no authorization code")
	}
	return code, nil
}
