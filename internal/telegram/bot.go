package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bot long-polls Telegram and hands every command to a Handler. Commands
// from different users run concurrently.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler *Handler
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewBot(token string, debug bool, handler *Handler, log *zap.Logger) (*Bot, error) {
	if log == nil {
		log = zap.NewNop()
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	api.Debug = debug
	log.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return &Bot{api: api, handler: handler, log: log}, nil
}

// Run blocks until ctx is done, then waits for in-flight commands.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			cmd, ok := commandFromMessage(upd.Message)
			if !ok {
				continue
			}
			b.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.wg.Done()
				b.dispatch(ctx, msg, cmd)
			}(upd.Message)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, msg *tgbotapi.Message, cmd Command) {
	log := b.log.With(
		zap.String("request_id", uuid.NewString()),
		zap.Int64("telegram_id", cmd.TelegramID),
		zap.String("command", cmd.Name))
	log.Debug("command received", zap.Strings("args", cmd.Args))

	reply, ok := b.handler.Handle(ctx, cmd)
	if !ok {
		return
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, reply.Text)
	out.ReplyToMessageID = msg.MessageID
	if reply.HTML {
		out.ParseMode = tgbotapi.ModeHTML
	}
	if _, err := b.api.Send(out); err != nil {
		log.Error("telegram send failed", zap.Error(err))
	}
}

// commandFromMessage keeps only bot commands sent by a user.
func commandFromMessage(msg *tgbotapi.Message) (Command, bool) {
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return Command{}, false
	}
	return Command{
		TelegramID: msg.From.ID,
		Name:       strings.ToLower(msg.Command()),
		Args:       strings.Fields(msg.CommandArguments()),
		Mention:    mention(msg.From),
	}, true
}

func mention(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.ID, html.EscapeString(name))
}
