package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/wpsave/wpsave/internal/cli"
	"github.com/wpsave/wpsave/internal/config"
	"github.com/wpsave/wpsave/internal/credential"
	"github.com/wpsave/wpsave/internal/logging"
	"github.com/wpsave/wpsave/internal/types"
	"github.com/wpsave/wpsave/internal/wordpress"
)

// runInit writes the annotated configuration template and leaves editing to
// the operator.
func runInit(args *cli.Args, bootstrap *logging.BootstrapLogger) int {
	if err := config.WriteDefaultConfig(args.ConfigPath); err != nil {
		bootstrap.Error("ERROR: %v", err)
		return types.ExitConfigError.Int()
	}
	bootstrap.Printf("✓ Configuration template written to %s", args.ConfigPath)
	bootstrap.Println("Edit the file (WP_DOMAIN, WP_PATH, DRIVE_CREDENTIALS_FILE at minimum),")
	bootstrap.Println("then run 'wpsave --authorize' to link a Google account.")
	return types.ExitSuccess.Int()
}

// runAuthorize walks the operator through the OAuth consent flow. The flow is
// interactive: the authorization code from the browser is pasted back on the
// terminal.
func runAuthorize(ctx context.Context, cfg *config.Config, bootstrap *logging.BootstrapLogger) int {
	if cfg.CredentialsFile == "" {
		bootstrap.Error("DRIVE_CREDENTIALS_FILE is not configured.")
		bootstrap.Println("Download an OAuth client file from the Google Cloud console and point DRIVE_CREDENTIALS_FILE at it.")
		return types.ExitConfigError.Int()
	}

	logger := logging.New(types.LogLevelInfo, cfg.UseColor)
	bootstrap.Flush(logger)

	store := credential.NewStore(cfg.CredentialsFile, cfg.TokenFile, logger)
	state := uuid.NewString()
	authURL, err := store.AuthCodeURL(state)
	if err != nil {
		logger.Error("Cannot start authorization: %v", err)
		return types.ExitCredentialError.Int()
	}

	fmt.Println()
	fmt.Println("Open the following URL in a browser and approve access:")
	fmt.Println()
	fmt.Printf("  %s\n", authURL)
	fmt.Println()

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		logger.Error("Standard input is not a terminal; the authorization code cannot be read.")
		logger.Info("Re-run 'wpsave --authorize' from an interactive shell.")
		return types.ExitCredentialError.Int()
	}

	fmt.Print("Paste the authorization code here: ")
	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		logger.Error("Failed to read authorization code: %v", err)
		return types.ExitCredentialError.Int()
	}

	if _, err := store.Exchange(ctx, strings.TrimSpace(code)); err != nil {
		logger.Error("Authorization failed: %v", err)
		return types.ExitCredentialError.Int()
	}

	logger.Success("Authorization complete, token saved to %s", store.TokenFile())
	logger.Info("Run 'wpsave --test' to verify the full setup.")
	return types.ExitSuccess.Int()
}

// runTestSetup validates the configuration, the local WordPress and database
// access, and the stored remote credential. No lock is taken and no backup
// runs.
func runTestSetup(ctx context.Context, cfg *config.Config, bootstrap *logging.BootstrapLogger) int {
	logger := logging.New(cfg.DebugLevel, cfg.UseColor)
	bootstrap.Flush(logger)

	logger.Stage("Checking configuration")
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration invalid: %v", err)
		return types.ExitConfigError.Int()
	}
	logger.Success("Configuration valid (%s, %s)", cfg.Domain, cfg.Environment)

	logger.Stage("Checking WordPress site and database access")
	producer := wordpress.NewProducer(cfg, logger, nil)
	if err := producer.Preflight(ctx); err != nil {
		logger.Error("Preflight failed: %v", err)
		return types.ExitExtractionError.Int()
	}
	logger.Success("Database connection verified")

	logger.Stage("Checking remote credential")
	store := credential.NewStore(cfg.CredentialsFile, cfg.TokenFile, logger)
	verifyCtx, cancel := context.WithTimeout(ctx, cfg.VerifyTimeout())
	defer cancel()
	if err := store.Verify(verifyCtx); err != nil {
		logger.Error("Credential check failed: %v", err)
		logCredentialGuidance(logger, err)
		return types.ExitCredentialError.Int()
	}
	logger.Success("Remote credential verified")

	logger.Success("All checks passed. Ready to back up %s.", cfg.Domain)
	return types.ExitSuccess.Int()
}
