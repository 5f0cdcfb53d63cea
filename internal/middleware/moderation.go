package middleware

import (
	"context"

	"github.com/chatgate-bot/chatgate/internal/collab"
	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/chatgate-bot/chatgate/internal/models"
	"github.com/sirupsen/logrus"
)

// Moderation submits outgoing text artifacts to the moderation
// collaborator and replaces flagged ones with the refusal template.
// Images bypass the check; a failing moderation service allows the
// artifact through with a logged warning.
type Moderation struct {
	checker collab.Moderator
	texts   *config.TextConfig
	logger  *logrus.Logger
}

func NewModeration(checker collab.Moderator, texts *config.TextConfig, logger *logrus.Logger) *Moderation {
	return &Moderation{checker: checker, texts: texts, logger: logger}
}

func (m *Moderation) HandleRequest(ctx context.Context, req *models.Request, resp *models.Response, next Next) error {
	return next(ctx)
}

func (m *Moderation) HandleRespond(ctx context.Context, req *models.Request, resp *models.Response, artifact *models.Artifact, next RespondNext) error {
	if m.checker == nil || artifact == nil || artifact.Type != models.ArtifactText {
		return next(ctx, artifact)
	}

	allowed, reason, err := m.checker.Check(ctx, artifact.Text)
	if err != nil {
		m.logger.WithError(err).Warn("Moderation check failed, allowing artifact")
		return next(ctx, artifact)
	}
	if !allowed {
		m.logger.WithFields(logrus.Fields{
			"session_id": req.SessionID,
			"reason":     reason,
		}).Info("Artifact flagged by moderation")
		return next(ctx, models.TextArtifact(m.texts.Moderated))
	}
	return next(ctx, artifact)
}

func (m *Moderation) HandleRespondCompleted(ctx context.Context, req *models.Request, resp *models.Response) {}
