package message

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/metrics"
	"github.com/matheus3301/mpp/internal/model"
)

// Contacts merges normalized users. *user.Service implements it.
type Contacts interface {
	MergeContacts(ctx context.Context, owner model.User, contacts []model.User) error
}

// Ingestor drains the inbound queue, normalizes each payload with the realm's
// normalizer and persists the result. A single consumer keeps per-chat
// arrival order.
type Ingestor struct {
	queue       *bus.Queue
	accounts    Accounts
	normalizers map[string]Normalizer
	chats       Chats
	contacts    Contacts
	logger      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIngestor creates an ingestor. normalizers is keyed by realm id.
func NewIngestor(q *bus.Queue, accounts Accounts, normalizers map[string]Normalizer, chats Chats, contacts Contacts, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		queue:       q,
		accounts:    accounts,
		normalizers: normalizers,
		chats:       chats,
		contacts:    contacts,
		logger:      logger.Named("ingestor"),
	}
}

// Start consumes the queue until Stop or ctx is done.
func (i *Ingestor) Start(ctx context.Context) {
	ctx, i.cancel = context.WithCancel(ctx)
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		for {
			select {
			case in, ok := <-i.queue.Events():
				if !ok {
					return
				}
				if err := i.Handle(ctx, in); err != nil {
					i.logger.Error("failed to ingest payload",
						zap.String("account", in.AccountID), zap.String("kind", in.Kind), zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the consumer and waits for the payload in progress.
func (i *Ingestor) Stop() {
	if i.cancel != nil {
		i.cancel()
	}
	i.wg.Wait()
}

// Handle ingests one payload. Units the normalizer dropped are logged and
// counted; persistence failures are returned.
func (i *Ingestor) Handle(ctx context.Context, in bus.Inbound) error {
	acc, ok := i.accounts.AccountByID(in.AccountID)
	if !ok {
		i.logger.Warn("payload for unknown account dropped", zap.String("account", in.AccountID))
		return nil
	}
	realm := acc.Realm().ID()
	n, ok := i.normalizers[realm]
	if !ok {
		i.logger.Warn("no normalizer for realm", zap.String("realm", realm))
		return nil
	}

	batches, err := n.Normalize(ctx, acc, in)
	if err != nil {
		var nerr *NormalizationError
		if !errors.As(err, &nerr) {
			err = &NormalizationError{Realm: realm, Err: err}
		}
		metrics.NormalizationErrorsTotal.WithLabelValues(realm).Inc()
		i.logger.Warn("dropped malformed input", zap.String("account", acc.ID()), zap.Error(err))
	}

	var errs []error
	for _, b := range batches {
		if len(b.Contacts) > 0 {
			if err := i.contacts.MergeContacts(ctx, acc.User(), b.Contacts); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if len(b.Messages) > 0 {
			inserted, err := i.chats.SaveChatMessages(ctx, b.Chat, b.Messages, true)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			metrics.MessagesIngestedTotal.WithLabelValues(realm).Add(float64(len(inserted)))
		}
		for _, ack := range b.Acks {
			if _, err := i.chats.ReconcileMessage(ctx, ack.Pending, ack.Acked); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
