package api

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
	"github.com/midnight-ntwrk/midnight-indexer/internal/pubsub"
)

type connectArgs struct {
	ViewingKey string
}

// connectPayloadResolver backs the ConnectPayload GraphQL type.
type connectPayloadResolver struct {
	sessionID string
	walletID  string
}

func (r *connectPayloadResolver) SessionId() string { return r.sessionID }
func (r *connectPayloadResolver) WalletId() string  { return r.walletID }

// Connect mints a fresh wallet session for viewingKey. It always creates a
// new Wallet row rather than reusing one bound to the same key: the
// viewing key is stored encrypted, so finding a prior row would mean
// decrypting and comparing every row on every connect, which defeats the
// point of keeping it encrypted at rest.
func (r *Resolver) Connect(ctx context.Context, args connectArgs) (*connectPayloadResolver, error) {
	viewingKey, err := hexDecode(args.ViewingKey)
	if err != nil {
		return nil, err
	}

	sessionID := make([]byte, 16)
	if _, err := rand.Read(sessionID); err != nil {
		return nil, apperr.Wrap(apperr.KindResource, "generate session id", err)
	}

	ciphertext, err := r.box.Seal(viewingKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindClientInput, "seal viewing key", err)
	}

	w := &domain.Wallet{
		ID:                   uuid.New().String(),
		SessionID:            sessionID,
		ViewingKeyCiphertext: ciphertext,
		Active:               true,
		LastActive:           time.Now(),
	}
	if err := r.store.CreateWallet(ctx, w); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(pubsub.WalletConnectedEvent{WalletID: w.ID})
	if err := r.bus.Publish(ctx, pubsub.TopicWalletConnected, payload); err != nil {
		r.log.Warn("publish wallet connected", "wallet_id", w.ID, "error", err)
	}

	return &connectPayloadResolver{sessionID: hexEncode(sessionID), walletID: w.ID}, nil
}

type disconnectArgs struct {
	SessionId string
}

// Disconnect deactivates the wallet bound to sessionId. An unknown session
// is a client input error, the same treatment an unknown session gets when
// named in a subscription.
func (r *Resolver) Disconnect(ctx context.Context, args disconnectArgs) (bool, error) {
	sessionID, err := hexDecode(args.SessionId)
	if err != nil {
		return false, err
	}
	w, err := r.store.WalletBySessionID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if w == nil {
		return false, apperr.New(apperr.KindClientInput, "unknown session")
	}
	if err := r.store.DeactivateWallet(ctx, w.ID); err != nil {
		return false, err
	}
	return true, nil
}
