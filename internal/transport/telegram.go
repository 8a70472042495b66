package transport

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/RussianLioN/openclaw-gateway/internal/gateway"
	"github.com/RussianLioN/openclaw-gateway/internal/session"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramBot polls Telegram for updates and drives the same chat pipeline as
// the WebSocket transport.
type TelegramBot struct {
	api    *tgbotapi.BotAPI
	gw     *gateway.Gateway
	logger *zap.Logger
}

// NewTelegramBot authorizes against the Telegram Bot API.
func NewTelegramBot(token string, gw *gateway.Gateway, logger *zap.Logger) (*TelegramBot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}

	logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return &TelegramBot{api: api, gw: gw, logger: logger}, nil
}

// Start runs the long-polling loop until ctx is cancelled. Updates for one
// chat are handled sequentially in arrival order.
func (b *TelegramBot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *TelegramBot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	sess := b.gw.Sessions().GetOrCreate(
		fmt.Sprintf("tg:%d", msg.From.ID),
		fmt.Sprintf("%d", msg.From.ID),
		msg.From.UserName,
	)

	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("failed to send typing action", zap.Error(err))
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, sess, chatID)
		return
	}

	b.gw.HandleChat(ctx, sess, msg.Text, func(event gateway.Event) {
		b.sendEvent(chatID, event)
	})
}

func (b *TelegramBot) handleCommand(ctx context.Context, msg *tgbotapi.Message, sess *session.Session, chatID int64) {
	switch msg.Command() {
	case "start":
		b.send(chatID, b.gw.Welcome(sess.ID).Content)
	case "help":
		b.gw.HandleChat(ctx, sess, "help", func(event gateway.Event) {
			b.sendEvent(chatID, event)
		})
	case "status":
		b.sendEvent(chatID, b.gw.SessionStatus(sess))
	case "new":
		// /new [archetype] [name] — routed through the normal pipeline.
		args := strings.TrimSpace(msg.CommandArguments())
		content := "Создай проект"
		if args != "" {
			content = "Создай проект " + args
		}
		b.gw.HandleChat(ctx, sess, content, func(event gateway.Event) {
			b.sendEvent(chatID, event)
		})
	default:
		b.send(chatID, fmt.Sprintf("Неизвестная команда: /%s", msg.Command()))
	}
}

func (b *TelegramBot) sendEvent(chatID int64, event gateway.Event) {
	switch event.Type {
	case "progress":
		b.send(chatID, fmt.Sprintf("⏳ %s", event.Content))
	case "question":
		text := event.Question
		if len(event.Options) > 0 {
			text += "\n\nВарианты:\n• " + strings.Join(event.Options, "\n• ")
		}
		b.send(chatID, text)
	case "error":
		b.send(chatID, "❌ "+event.Content)
	default:
		b.send(chatID, event.Content)
	}
}

// send delivers the text as Telegram HTML, falling back to plain text when
// the HTML variant is rejected.
func (b *TelegramBot) send(chatID int64, text string) {
	if text == "" {
		return
	}

	msg := tgbotapi.NewMessage(chatID, markdownToHTML(text))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("html send failed, falling back to plain text", zap.Error(err))
		if _, err := b.api.Send(tgbotapi.NewMessage(chatID, stripMarkdown(text))); err != nil {
			b.logger.Error("failed to send telegram message", zap.Error(err))
		}
	}
}

var (
	preRe    = regexp.MustCompile("(?s)```(.*?)```")
	codeRe   = regexp.MustCompile("`(.+?)`")
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldRe2  = regexp.MustCompile(`__(.+?)__`)
	italicRe = regexp.MustCompile(`\*(.+?)\*`)
	strikeRe = regexp.MustCompile(`~~(.+?)~~`)
	linkRe   = regexp.MustCompile(`\[(.+?)\]\((.+?)\)`)
)

// markdownToHTML converts markdown formatting to Telegram HTML, which is more
// reliable than Telegram's markdown parse mode.
func markdownToHTML(text string) string {
	text = preRe.ReplaceAllString(text, "<pre>$1</pre>")
	text = boldRe.ReplaceAllString(text, "<b>$1</b>")
	text = boldRe2.ReplaceAllString(text, "<b>$1</b>")
	text = italicRe.ReplaceAllString(text, "<i>$1</i>")
	text = strikeRe.ReplaceAllString(text, "<s>$1</s>")
	text = codeRe.ReplaceAllString(text, "<code>$1</code>")
	text = linkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)
	return text
}

// stripMarkdown removes markdown markers for the plain-text fallback.
func stripMarkdown(text string) string {
	text = preRe.ReplaceAllString(text, "$1")
	text = boldRe.ReplaceAllString(text, "$1")
	text = boldRe2.ReplaceAllString(text, "$1")
	text = italicRe.ReplaceAllString(text, "$1")
	text = strikeRe.ReplaceAllString(text, "$1")
	text = codeRe.ReplaceAllString(text, "$1")
	text = linkRe.ReplaceAllString(text, "$1 ($2)")
	return text
}
