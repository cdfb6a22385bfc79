package notifier

import (
	"context"
	"errors"
	"sync"

	"coefbot/internal/supply"
	"coefbot/internal/transport"
)

// Recipients fans match batches out to every configured chat.
type Recipients struct {
	svc *Service

	mu    sync.RWMutex
	chats []transport.ChatTarget
}

// NewRecipients may be given a nil svc and bound later, when the service
// depends on storage opened after the sink is needed.
func NewRecipients(svc *Service, chats []transport.ChatTarget) *Recipients {
	r := &Recipients{svc: svc}
	r.Set(chats)
	return r
}

func (r *Recipients) Bind(svc *Service) {
	r.mu.Lock()
	r.svc = svc
	r.mu.Unlock()
}

// Set replaces the recipient list; used on config reload.
func (r *Recipients) Set(chats []transport.ChatTarget) {
	r.mu.Lock()
	r.chats = append([]transport.ChatTarget(nil), chats...)
	r.mu.Unlock()
}

func (r *Recipients) Chats() []transport.ChatTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]transport.ChatTarget(nil), r.chats...)
}

// Deliver sends one line per match to each recipient. Empty batches are
// not sent.
func (r *Recipients) Deliver(ctx context.Context, matches []supply.Entry) error {
	if len(matches) == 0 {
		return nil
	}
	r.mu.RLock()
	svc := r.svc
	r.mu.RUnlock()
	if svc == nil {
		return errors.New("notifier: recipients not bound")
	}
	text := supply.Lines(matches)
	var errs []error
	for _, to := range r.Chats() {
		err := svc.Notify(ctx, transport.Notification{
			Channel: "telegram",
			Target:  to,
			Text:    text,
			Options: &transport.SendOptions{DisablePreview: true},
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
