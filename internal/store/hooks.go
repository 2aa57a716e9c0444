package store

import (
	"context"

	"github.com/rs/zerolog/log"
)

// notifier calls hooks after a commit, logging failures
type notifier struct {
	hooks Hooks
}

func (n notifier) saved(ctx context.Context, m *TestModel, created bool) {
	if n.hooks == nil {
		return
	}
	if err := n.hooks.PostSave(ctx, *m, created); err != nil {
		log.Warn().Err(err).Int64("id", m.ID).Bool("created", created).Msg("Post-save hook failed")
	}
}

func (n notifier) deleted(ctx context.Context, m *TestModel) {
	if n.hooks == nil {
		return
	}
	if err := n.hooks.PostDelete(ctx, *m); err != nil {
		log.Warn().Err(err).Int64("id", m.ID).Msg("Post-delete hook failed")
	}
}
