package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yeti47/cryovault/client/vaultctl/config"
	"github.com/yeti47/cryovault/core/account"
	"github.com/yeti47/cryovault/core/ccc/db"
	"github.com/yeti47/cryovault/core/ccc/logging"
	"github.com/yeti47/cryovault/core/encryption"
	"github.com/yeti47/cryovault/core/session"
	"github.com/yeti47/cryovault/core/vault"
)

var (
	cfgFile string

	// Config override flags
	serverURL      string
	databasePath   string
	sessionKeyPath string
	logLevel       string
	kdfIterations  int

	app *application
)

// application holds the services wired for one command invocation.
type application struct {
	config  *config.Config
	logger  logging.Logger
	session *session.Manager
	vault   *vault.Client
	account *account.Service
	closers []io.Closer
}

func (a *application) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "Command line client for the password vault",
	Long: `vaultctl talks to a password vault server. Entries and attachments are encrypted
on this device with a key derived from your master password; the server only ever
sees ciphertext.`,
	SilenceUsage:      true,
	PersistentPreRunE: initializeApp,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if app != nil {
			return app.Close()
		}
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if app != nil {
			app.Close()
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/vaultctl/config.json)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", "", "vault server URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&databasePath, "database", "", "local state database (overrides config)")
	rootCmd.PersistentFlags().StringVar(&sessionKeyPath, "session-key", "", "device session key file (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().IntVar(&kdfIterations, "kdf-iterations", 0, "PBKDF2 iterations (overrides config)")
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine config directory: %w", err)
	}
	return filepath.Join(dir, "vaultctl", "config.json"), nil
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(".env", filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	cfg.Override(config.ConfigOverrides{
		ServerURL:      &serverURL,
		DatabasePath:   &databasePath,
		SessionKeyPath: &sessionKeyPath,
		LogLevel:       &logLevel,
		KDFIterations:  &kdfIterations,
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func initializeApp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a := &application{config: cfg}
	app = a

	logger, logCloser := logging.CreateLogger(logging.LogLevel(cfg.LogLevel), cfg.LogPath, "vaultctl")
	a.logger = logger
	a.closers = append(a.closers, logCloser)
	logger.Debug("Configuration loaded", "server_url", cfg.ServerURL, "database_path", cfg.DatabasePath, "kdf_iterations", cfg.KDFIterations)

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	conn, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, conn)

	keyRepo, err := encryption.NewSQLiteKeyRepository(conn)
	if err != nil {
		return fmt.Errorf("failed to create key repository: %w", err)
	}
	custodian := encryption.NewCustodian(logger, keyRepo)
	cipher := encryption.NewVaultCipher(logger, custodian, nil)

	deviceKeys, err := session.LoadOrCreateDeviceKeys(cfg.SessionKeyPath)
	if err != nil {
		return err
	}
	jar, err := session.NewSQLiteJar(logger, conn, cfg.Origin(), deviceKeys)
	if err != nil {
		return fmt.Errorf("failed to create session jar: %w", err)
	}

	httpClient := &http.Client{Timeout: time.Duration(cfg.ServerTimeoutSeconds) * time.Second}
	a.session = session.NewManager(logger, jar, cfg.ServerURL, session.WithHTTPClient(httpClient))
	a.vault = vault.NewClient(logger, a.session, cipher)
	a.account = account.NewService(logger, a.session, a.vault, custodian, cipher, account.WithIterations(cfg.KDFIterations))
	return nil
}
