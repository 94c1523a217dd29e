package chatbot

import (
	"context"
	"fmt"
	"time"

	"github.com/workmesh/ndp/internal/kv"
	"github.com/workmesh/ndp/pkg/models"
)

// LoadBotState reads the durable state of a bot, returning a zero state
// when none is saved yet.
func LoadBotState(ctx context.Context, store kv.Store, workspace, botID string) (*models.BotState, error) {
	state, ok, err := kv.GetTyped[models.BotState](ctx, store, kv.BotStateKey(workspace, botID))
	if err != nil {
		return nil, fmt.Errorf("chatbot: load state %s/%s: %w", workspace, botID, err)
	}
	if !ok {
		return &models.BotState{Cursors: make(map[string]string)}, nil
	}
	if state.Cursors == nil {
		state.Cursors = make(map[string]string)
	}
	return &state, nil
}

// SaveBotState persists the bot state with the week-long TTL.
func SaveBotState(ctx context.Context, store kv.Store, workspace, botID string, state *models.BotState) error {
	state.UpdatedAt = time.Now().UTC()
	if err := kv.SetTyped(ctx, store, kv.BotStateKey(workspace, botID), state, kv.TTLBotState); err != nil {
		return fmt.Errorf("chatbot: save state %s/%s: %w", workspace, botID, err)
	}
	return nil
}
