package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"

	"github.com/exalotto/deployer/internal/artifact"
	"github.com/exalotto/deployer/internal/chain"
	"github.com/exalotto/deployer/internal/journal"
	"github.com/exalotto/deployer/internal/signer"
)

// connect dials the configured RPC endpoint and verifies its chain id.
func (a *app) connect(ctx context.Context) (chain.Client, *big.Int, error) {
	client, err := a.dialer.Dial(ctx, a.cfg.RPCURL)
	if err != nil {
		return nil, nil, err
	}
	chainID, err := chain.VerifyChainID(ctx, client, a.cfg.ChainID)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	a.logger.Info("connected",
		slog.String("rpc_url", a.cfg.RPCURL),
		slog.String("chain_id", chainID.String()),
	)
	return client, chainID, nil
}

// loadSigners returns the configured identities, local keys first. The
// returned function releases the remote signer connection.
func (a *app) loadSigners(ctx context.Context) (signer.Set, func(), error) {
	if err := a.cfg.RequireSigner(); err != nil {
		return nil, nil, err
	}
	if len(a.cfg.PrivateKeys) > 0 {
		set, err := signer.ParseKeys(a.cfg.PrivateKeys)
		if err != nil {
			return nil, nil, err
		}
		return set, func() {}, nil
	}

	remote, err := signer.DialRemote(ctx, a.cfg.SignerURL, a.cfg.SignerAPIKey)
	if err != nil {
		return nil, nil, err
	}
	set, err := remote.Signers(ctx)
	if err != nil {
		remote.Close()
		return nil, nil, err
	}
	return set, remote.Close, nil
}

// loadArtifacts reads artifacts from the configured bundle URL or
// directory.
func (a *app) loadArtifacts(ctx context.Context) (*artifact.Store, error) {
	if a.cfg.ArtifactsURL != "" {
		fetcher := artifact.NewFetcher(filepath.Join(os.TempDir(), "exalotto-artifacts"))
		store, err := fetcher.Fetch(ctx, a.cfg.ArtifactsURL, a.cfg.ArtifactsSHA256)
		if err != nil {
			return nil, err
		}
		a.logger.Info("artifact bundle loaded",
			slog.String("url", a.cfg.ArtifactsURL),
			slog.Int("artifacts", len(store.Names())),
		)
		return store, nil
	}

	store, err := artifact.LoadDir(a.cfg.ArtifactsDir)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("artifacts loaded",
		slog.String("dir", a.cfg.ArtifactsDir),
		slog.Int("artifacts", len(store.Names())),
	)
	return store, nil
}

// openJournal returns the configured journal. Without a DSN the journal
// lives in memory for the duration of the process.
func (a *app) openJournal(ctx context.Context) (journal.Repository, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	if a.cfg.JournalDSN == "" {
		a.journal = journal.NewMemoryRepository()
		return a.journal, nil
	}

	pool, err := journal.Connect(ctx, a.cfg.JournalDSN)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	version, err := journal.Migrate(pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	a.logger.Debug("journal ready", slog.Uint64("schema_version", uint64(version)))

	a.journal = journal.NewPostgresRepository(pool)
	return a.journal, nil
}
