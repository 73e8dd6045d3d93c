package processor

import (
	"context"
	"strings"
	"time"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/config"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/metrics"
	"github.com/sirupsen/logrus"
)

// StartProcessorPool runs workers that apply intents one transaction at a
// time. Each delivery is settled by the error class of its outcome.
func StartProcessorPool(
	ctx context.Context,
	handler Handler,
	intents <-chan IncomingIntent,
	workers int,
	cfg config.ProcessorConfig,
	log *logrus.Logger,
) {
	log.Infof("Starting processor pool with %d workers", workers)

	for i := 0; i < workers; i++ {
		go runWorker(ctx, i, handler, intents, cfg, log)
	}
}

func runWorker(
	ctx context.Context,
	id int,
	handler Handler,
	intents <-chan IncomingIntent,
	cfg config.ProcessorConfig,
	log *logrus.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-intents:
			if !ok {
				return
			}
			process(ctx, id, handler, in, cfg, log)
		}
	}
}

func process(
	ctx context.Context,
	worker int,
	handler Handler,
	in IncomingIntent,
	cfg config.ProcessorConfig,
	log *logrus.Logger,
) {
	msg := in.Payload
	fields := logrus.Fields{
		"worker_id":  worker,
		"intent_id":  msg.IntentID,
		"action":     msg.Action,
		"request_id": msg.RequestID,
	}
	if issued, err := msg.ParseTimestamp(); err == nil {
		fields["queued_for"] = time.Since(issued).String()
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var err error
	for i := 0; i < maxRetries; i++ {
		opCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err = handler.Handle(opCtx, msg)
		cancel()
		if err == nil || !isRetryable(err) {
			break
		}
		log.WithFields(fields).Warnf("Worker %d: Deadlock detected (attempt %d/%d). Retrying...", worker, i+1, maxRetries)
		time.Sleep(time.Millisecond * time.Duration(100*(i+1)))
	}

	class := ledger.Classify(err)
	metrics.IntentsTotal.WithLabelValues(string(msg.Action), class).Inc()

	switch class {
	case "ok":
		log.WithFields(fields).Debug("intent applied")
		ack(in, log)
	case "conflict":
		log.WithFields(fields).WithError(err).Info("intent already applied")
		ack(in, log)
	case "validation", "invariant":
		log.WithFields(fields).WithError(err).Error("intent refused, dropping")
		nack(in, false, log)
	default:
		log.WithFields(fields).WithError(err).Error("intent failed, requeueing")
		nack(in, true, log)
	}
}

func ack(in IncomingIntent, log *logrus.Logger) {
	if err := in.Delivery.Ack(false); err != nil {
		log.WithError(err).Warn("failed to ack message")
	}
}

func nack(in IncomingIntent, requeue bool, log *logrus.Logger) {
	if err := in.Delivery.Nack(false, requeue); err != nil {
		log.WithError(err).WithField("requeue", requeue).Warn("failed to nack message")
	}
}

// isRetryable matches PostgreSQL deadlock (40P01) and serialization
// failure (40001) reports.
func isRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "40P01") ||
		strings.Contains(msg, "40001") ||
		strings.Contains(strings.ToLower(msg), "deadlock")
}
