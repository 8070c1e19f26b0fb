package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mailzero/mailzero/internal/config"
	"github.com/mailzero/mailzero/internal/db"
	"github.com/mailzero/mailzero/internal/fetch"
	"github.com/mailzero/mailzero/internal/gmail"
	"github.com/mailzero/mailzero/internal/logging"
	"github.com/mailzero/mailzero/internal/services"
	"github.com/mailzero/mailzero/internal/unsubscribe"
	"github.com/mailzero/mailzero/internal/version"
	"github.com/mailzero/mailzero/pkg/auth"
	"golang.org/x/oauth2"
)

func main() {
	configPathFlag := flag.String("config", "", "Path to JSON or YAML configuration file (default: ~/.config/mailzero/config.json)")
	credPathFlag := flag.String("credentials", "", "Path to OAuth client credentials JSON (default: ~/.config/mailzero/credentials.json)")
	tokenPathFlag := flag.String("token", "", "Path to the stored OAuth token (default: ~/.config/mailzero/token.json)")
	dbPathFlag := flag.String("db", "", "Path to the local SQLite database (default: ~/.config/mailzero/mailzero.db)")
	folderFlag := flag.String("folder", "", "Folder to browse: inbox, spam, archive, trash, draft, sent")
	searchFlag := flag.String("search", "", "Gmail search query applied to the folder")
	pagesFlag := flag.Int("pages", 1, "Number of list pages to load")
	codeFlag := flag.String("code", "", "Authorization code for the login command")
	versionFlag := flag.Bool("version", false, "Show version information and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.GetVersionString())
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [options] <command> [args]\n\n", filepath.Base(os.Args[0]))
		fmt.Fprintf(os.Stderr, "Commands:\n%s\n", commandHelp())
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  %-22s Override default config file path\n", config.EnvConfig)
		fmt.Fprintf(os.Stderr, "  %-22s Override default credentials file path\n", config.EnvCredentials)
		fmt.Fprintf(os.Stderr, "  %-22s Override default token file path\n", config.EnvToken)
		fmt.Fprintf(os.Stderr, "  %-22s Override default database path\n", config.EnvDatabase)
	}
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.GetDetailedVersionString())
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadEnvFiles(".env", filepath.Join(config.DefaultConfigDir(), ".env")); err != nil {
		log.Printf("Warning: %v", err)
	}

	manager := config.NewManager()
	configPath := *configPathFlag
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	if err := manager.LoadFromFile(configPath); err != nil {
		log.Printf("Warning: could not load configuration: %v", err)
		manager.LoadFromDefaults()
	}
	cfg := manager.GetConfig()

	logger, logCloser, err := logging.Open(cfg.LogFile, config.DefaultLogDir())
	if err != nil {
		log.Printf("Warning: could not open log file: %v", err)
	}
	defer logCloser.Close()
	logger.Printf("%s starting", version.GetVersionString())

	credPath, tokenPath := manager.GetCredentialPaths()
	if *credPathFlag != "" {
		credPath = *credPathFlag
	}
	if *tokenPathFlag != "" {
		tokenPath = *tokenPathFlag
	}
	dbPath := manager.GetDatabasePath()
	if *dbPathFlag != "" {
		dbPath = *dbPathFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{
		folder: *folderFlag,
		search: *searchFlag,
		pages:  *pagesFlag,
		code:   *codeFlag,
	}
	if opts.folder == "" {
		opts.folder = cfg.Mail.DefaultFolder
	}

	if err := run(ctx, cfg, logger, credPath, tokenPath, dbPath, opts, flag.Args()); err != nil {
		logger.Printf("command %q failed: %v", flag.Arg(0), err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, credPath, tokenPath, dbPath string, opts options, args []string) error {
	oauthConfig := auth.NewOAuth2Config(credPath, tokenPath)

	if args[0] == "login" && opts.code == "" {
		u, err := oauthConfig.AuthURL("mailzero")
		if err != nil {
			return err
		}
		fmt.Printf("Open this link, grant access, then run:\n  mailzero --code <code> login\n\n%s\n", u)
		return nil
	}
	if args[0] == "login" {
		if _, err := oauthConfig.Exchange(ctx, opts.code); err != nil {
			return err
		}
	}

	store, err := db.Open(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	connections := db.NewConnectionStore(store)

	var conn *db.Connection
	ts, err := oauthConfig.TokenSourceWithSave(ctx, func(tok *oauth2.Token) error {
		if err := oauthConfig.SaveToken(tok); err != nil {
			return err
		}
		if conn == nil {
			return nil
		}
		return connections.UpdateTokens(ctx, conn.ID, tok.AccessToken, tok.RefreshToken, tok.Expiry)
	})
	if err != nil {
		return fmt.Errorf("%w (run `mailzero login` first)", err)
	}
	svc, err := auth.NewGmailService(ctx, ts)
	if err != nil {
		return err
	}
	client := gmail.NewClient(svc)
	client.SetLogger(logger)
	client.SetConcurrency(cfg.Mail.MetadataConcurrency)

	conn, err = resolveConnection(ctx, connections, client, cfg.UserID, ts)
	if err != nil {
		return err
	}
	logger.Printf("using connection %s (%s)", conn.ID, conn.Email)

	cache := fetch.New(cfg.GetStaleTime())
	cache.SetLogger(logger)
	executor := unsubscribe.NewExecutor(client)
	executor.SetLogger(logger)

	a := &app{
		out:         os.Stdout,
		logger:      logger,
		connections: connections,
		notes:       db.NewNoteStore(store),
		connection:  conn,
		opts:        opts,
	}
	a.mailbox = services.NewMailbox(services.MailboxOptions{
		Cache:            cache,
		Remote:           client,
		Notifier:         services.NewWriterNotifier(os.Stderr, logger),
		Unsubscriber:     executor,
		PageSize:         cfg.Mail.PageSize,
		UnsubscribeDelay: cfg.GetUnsubscribeDelay(),
		Logger:           logger,
	}, conn.Identity())
	defer a.mailbox.Close()

	return a.dispatch(ctx, args)
}

// exitCode maps transient remote failures to EX_TEMPFAIL so scripts can retry
func exitCode(err error) int {
	if services.IsRetryableError(err) {
		return 75
	}
	return 1
}

// resolveConnection records the authorized Gmail account as the user's
// default connection
func resolveConnection(ctx context.Context, connections *db.ConnectionStore, client *gmail.Client, userID string, ts oauth2.TokenSource) (*db.Connection, error) {
	email, err := client.ActiveAccountEmail(ctx)
	if err != nil {
		return nil, fmt.Errorf("read account profile: %w", err)
	}
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	conn, err := connections.Save(ctx, db.Connection{
		UserID:       userID,
		Email:        email,
		Name:         email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiryUnix(tok),
	})
	if err != nil {
		return nil, err
	}
	if !conn.IsDefault {
		if err := connections.SetDefault(ctx, userID, conn.ID); err != nil {
			return nil, err
		}
		conn.IsDefault = true
	}
	return conn, nil
}

func expiryUnix(tok *oauth2.Token) int64 {
	if tok.Expiry.IsZero() {
		return 0
	}
	return tok.Expiry.Unix()
}
