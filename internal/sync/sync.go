package sync

import (
	"context"
	"time"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/cache"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/repository"
	"github.com/sirupsen/logrus"
)

const (
	syncTimeout = 30 * time.Second
)

// SyncCache periodically recomputes wallet balances from the transaction
// log and stores them in the balance cache, batchSize wallets at a time.
func SyncCache(
	ctx context.Context,
	wallets *repository.WalletRepository,
	entries *repository.EntryRepository,
	balances cache.BalanceCache,
	batchSize int,
	interval time.Duration,
	log *logrus.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial sync
	runSync(ctx, wallets, entries, balances, batchSize, log)

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping cache synchronizer")
			return
		case <-ticker.C:
			runSync(ctx, wallets, entries, balances, batchSize, log)
		}
	}
}

func runSync(
	ctx context.Context,
	wallets *repository.WalletRepository,
	entries *repository.EntryRepository,
	balances cache.BalanceCache,
	batchSize int,
	log *logrus.Logger,
) int64 {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	if batchSize < 1 {
		batchSize = 500
	}

	total, err := wallets.CountWallets(ctx)
	if err != nil {
		log.WithError(err).Error("failed to count wallets for cache sync")
		return 0
	}

	if total == 0 {
		log.Debug("no wallets to sync")
		return 0
	}

	log.WithField("total", total).Debug("starting cache synchronization")

	var synced int64
	offset := 0

	for {
		ids, err := wallets.ListIDs(ctx, batchSize, offset)
		if err != nil {
			log.WithError(err).Error("failed to fetch wallet batch")
			break
		}

		if len(ids) == 0 {
			break
		}

		sums, err := entries.SumByWallets(ctx, ids)
		if err != nil {
			log.WithError(err).Error("failed to sum wallet batch")
			break
		}

		for _, id := range ids {
			balances.Store(ctx, id, sums[id])
			synced++
		}

		offset += len(ids)

		if len(ids) < batchSize {
			break
		}

		select {
		case <-ctx.Done():
			log.Info("cache sync cancelled")
			return synced
		default:
		}
	}

	log.WithFields(logrus.Fields{
		"synced": synced,
		"total":  total,
	}).Info("cache synchronization completed")

	return synced
}
