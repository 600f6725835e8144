// Package cli реализует команды клиента gophsync.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/data"
	"github.com/iudanet/gophsync/internal/client/iocli"
	"github.com/iudanet/gophsync/internal/client/owner"
	"github.com/iudanet/gophsync/internal/client/storage/boltdb"
	clientsync "github.com/iudanet/gophsync/internal/client/sync"
	"github.com/iudanet/gophsync/internal/client/syncstate"
	"github.com/iudanet/gophsync/internal/config"
	"github.com/iudanet/gophsync/internal/fingerprint"
	pkgapi "github.com/iudanet/gophsync/pkg/api"
)

// PassphraseEnv переменная окружения с паролем владельца
const PassphraseEnv = "GOPHSYNC_PASSPHRASE"

// RootOptions глобальные флаги команд
type RootOptions struct {
	ConfigPath     string
	ServerURL      string
	DBPath         string
	Owner          string
	Passphrase     string
	PassphraseFile string
	Verbose        bool
}

// app связывает компоненты клиента для одной команды
type app struct {
	cfg    *config.ClientConfig
	opts   *RootOptions
	io     iocli.IO
	logger *slog.Logger
	store  *boltdb.Storage
	owners *owner.Manager
	trees  *fingerprint.Cache
	data   *data.Service
	client *api.Client
	states *syncstate.Store
	worker *clientsync.Worker
}

func openApp(ctx context.Context, opts *RootOptions, stdio iocli.IO) (*app, error) {
	cfg, err := config.LoadClient(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}

	store, err := boltdb.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	owners := owner.NewManager(store, logger)
	trees := fingerprint.NewCache(store, cfg.Tree.Options())
	service := data.NewService(store, owners, trees, cfg.Clock.HLC(), nil, logger)
	states := syncstate.NewStore()

	client := api.NewClient(cfg.ServerURL, owners, logger,
		api.WithHTTPClient(&http.Client{Timeout: cfg.Sync.RequestTimeout}),
		api.WithTokenTTL(cfg.Sync.TokenTTL),
	)

	rec := clientsync.NewReconciler(store, service, trees, client, clientsync.NewMemoryLock(),
		service, states, clientsync.Config{
			MaxRoundBytes: cfg.Sync.MaxRoundBytes,
			MaxPushBytes:  cfg.Sync.MaxPushBytes,
		}, logger)

	worker := clientsync.NewWorker(meteredRounder{rec}, logger,
		clientsync.WithInterval(cfg.Sync.Interval),
		clientsync.WithMaxConcurrent(cfg.Sync.MaxConcurrent),
	)
	service.SetNotifier(worker)

	return &app{
		cfg:    cfg,
		opts:   opts,
		io:     stdio,
		logger: logger,
		store:  store,
		owners: owners,
		trees:  trees,
		data:   service,
		client: client,
		states: states,
		worker: worker,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

// withApp открывает клиент на время выполнения команды
func withApp(ctx context.Context, opts *RootOptions, stdio iocli.IO, fn func(context.Context, *app) error) error {
	a, err := openApp(ctx, opts, stdio)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}

// resolveOwner выбирает владельца: из флага --owner или единственного на устройстве
func (a *app) resolveOwner(ctx context.Context) (pkgapi.OwnerID, error) {
	if a.opts.Owner != "" {
		id, err := pkgapi.ParseOwnerID(a.opts.Owner)
		if err != nil {
			return pkgapi.OwnerID{}, fmt.Errorf("invalid --owner: %w", err)
		}
		return id, nil
	}

	owners, err := a.owners.List(ctx)
	if err != nil {
		return pkgapi.OwnerID{}, fmt.Errorf("failed to list owners: %w", err)
	}
	switch len(owners) {
	case 0:
		return pkgapi.OwnerID{}, errors.New("no owners on this device. Run 'gophsync owner create' or 'gophsync owner restore' first")
	case 1:
		return owners[0].ID, nil
	default:
		return pkgapi.OwnerID{}, fmt.Errorf("%d owners on this device, choose one with --owner", len(owners))
	}
}

// unlock выбирает владельца и разблокирует его паролем
func (a *app) unlock(ctx context.Context) (pkgapi.OwnerID, error) {
	id, err := a.resolveOwner(ctx)
	if err != nil {
		return pkgapi.OwnerID{}, err
	}

	passphrase, err := a.passphrase(false)
	if err != nil {
		return pkgapi.OwnerID{}, err
	}
	if err := a.owners.Unlock(ctx, id, passphrase); err != nil {
		return pkgapi.OwnerID{}, fmt.Errorf("failed to unlock owner: %w", err)
	}
	return id, nil
}

// passphrase получает пароль из источников по приоритету:
// 1. Переменная окружения GOPHSYNC_PASSPHRASE
// 2. Файл из --passphrase-file
// 3. Флаг --passphrase
// 4. Интерактивный ввод (с подтверждением для нового пароля)
func (a *app) passphrase(confirm bool) (string, error) {
	return readPassphrase(a.opts, a.io, confirm)
}

func readPassphrase(opts *RootOptions, stdio iocli.IO, confirm bool) (string, error) {
	if env := os.Getenv(PassphraseEnv); env != "" {
		return env, nil
	}

	if opts.PassphraseFile != "" {
		content, err := os.ReadFile(opts.PassphraseFile)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase file: %w", err)
		}
		// Убираем trailing newline
		passphrase := strings.TrimSpace(string(content))
		if passphrase == "" {
			return "", errors.New("passphrase file is empty")
		}
		return passphrase, nil
	}

	if opts.Passphrase != "" {
		return opts.Passphrase, nil
	}

	passphrase, err := stdio.ReadPassword("Passphrase: ")
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if passphrase == "" {
		return "", errors.New("passphrase cannot be empty")
	}
	if confirm {
		again, err := stdio.ReadPassword("Repeat passphrase: ")
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		if again != passphrase {
			return "", errors.New("passphrases do not match")
		}
	}
	return passphrase, nil
}
