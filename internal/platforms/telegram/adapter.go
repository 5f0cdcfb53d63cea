// Package telegram adapts the Telegram bot API to the dispatcher's
// request/response contract.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/chatgate-bot/chatgate/internal/dispatcher"
	"github.com/chatgate-bot/chatgate/internal/models"
	"github.com/chatgate-bot/chatgate/pkg/markdown"
)

// Adapter runs the long-polling loop and bridges updates into the
// dispatcher.
type Adapter struct {
	bot        *tgbotapi.BotAPI
	dispatcher *dispatcher.Dispatcher
	cfg        *config.Config
	logger     *logrus.Logger
}

// NewAdapter authenticates the bot.
func NewAdapter(cfg *config.Config, d *dispatcher.Dispatcher, logger *logrus.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logger.WithField("username", bot.Self.UserName).Info("Telegram bot authorized")
	return &Adapter{bot: bot, dispatcher: d, cfg: cfg, logger: logger}, nil
}

// Run consumes updates until the context is canceled. Each message is
// handled on its own goroutine so one slow ask never blocks the loop.
func (a *Adapter) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = a.cfg.Telegram.UpdateTimeout
	if u.Timeout == 0 {
		u.Timeout = 60
	}

	updates := a.bot.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			msg := update.Message
			go func() {
				req := a.buildRequest(msg)
				resp := models.NewResponse(a.sendFunc(msg.Chat.ID))
				if err := a.dispatcher.Handle(ctx, req, resp); err != nil {
					a.logger.WithError(err).WithField("session_id", req.SessionID).Error("Message handling failed")
				}
			}()
		}
	}
}

func (a *Adapter) buildRequest(msg *tgbotapi.Message) *models.Request {
	var chain models.MessageChain

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text != "" {
		chain = append(chain, models.Element{Type: models.ElementText, Text: text})
	}
	if len(msg.Photo) > 0 {
		// Telegram sends several sizes; the last is the largest.
		if data, err := a.downloadFile(msg.Photo[len(msg.Photo)-1].FileID); err != nil {
			a.logger.WithError(err).Warn("Failed to download photo")
		} else {
			chain = append(chain, models.Element{Type: models.ElementImage, Bytes: data})
		}
	}

	userID := strconv.FormatInt(msg.From.ID, 10)
	sessionType := "friend"
	groupID := ""
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if msg.Chat.IsGroup() || msg.Chat.IsSuperGroup() {
		sessionType = "group"
		groupID = chatID
	}

	return &models.Request{
		SessionID: fmt.Sprintf("%s-%s", sessionType, chatID),
		UserID:    userID,
		GroupID:   groupID,
		Nickname:  msg.From.UserName,
		IsManager: userID == a.cfg.System.ManagerID,
		Message:   chain,
	}
}

func (a *Adapter) downloadFile(fileID string) ([]byte, error) {
	url, err := a.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// sendFunc maps artifacts onto Telegram message types.
func (a *Adapter) sendFunc(chatID int64) models.SendFunc {
	return func(ctx context.Context, artifact *models.Artifact) error {
		return a.sendArtifact(chatID, artifact)
	}
}

func (a *Adapter) sendArtifact(chatID int64, artifact *models.Artifact) error {
	switch artifact.Type {
	case models.ArtifactText:
		return a.sendText(chatID, artifact.Text)
	case models.ArtifactImage:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "image.png", Bytes: artifact.Bytes})
		_, err := a.bot.Send(photo)
		return err
	case models.ArtifactVoice:
		voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: "voice." + voiceExt(artifact), Bytes: artifact.Bytes})
		_, err := a.bot.Send(voice)
		return err
	case models.ArtifactMixed:
		for i := range artifact.Parts {
			if err := a.sendArtifact(chatID, &artifact.Parts[i]); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func (a *Adapter) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, markdown.ToTelegramHTML(text))
	msg.ParseMode = "HTML"
	if _, err := a.bot.Send(msg); err != nil {
		// HTML conversion can produce tags Telegram rejects; retry
		// with the raw text.
		a.logger.WithError(err).Debug("HTML send failed, falling back to plain text")
		plain := tgbotapi.NewMessage(chatID, text)
		_, err = a.bot.Send(plain)
		return err
	}
	return nil
}

func voiceExt(artifact *models.Artifact) string {
	if artifact.Format != "" {
		return artifact.Format
	}
	return "ogg"
}
