package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/pointcrash/ai-dm-bot/internal/security"
)

// Telegram rejects messages over 4096 characters.
const telegramMessageLimit = 4000

const (
	voiceTimeout     = time.Minute
	voiceFailedReply = "🎙 I could not make out that voice message. Please try again or type it."
)

// Transcriber turns a voice recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// TelegramChannel integrates with the Telegram Bot API.
type TelegramChannel struct {
	mu      sync.Mutex
	cfg     TelegramConfig
	auth    *security.Authorizer
	bot     *tele.Bot
	handler func(InboundMessage)
	voice   Transcriber
	running bool
	stop    chan struct{}
	logger  *zap.Logger
}

// TelegramConfig holds Telegram-specific configuration.
type TelegramConfig struct {
	Token      string
	AllowedIDs []int64
	// APIURL overrides the Bot API endpoint.
	APIURL string
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(cfg TelegramConfig, logger *zap.Logger) *TelegramChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramChannel{
		cfg:    cfg,
		auth:   security.NewAuthorizer(cfg.AllowedIDs),
		logger: logger.Named("telegram"),
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

// SetTranscriber enables voice messages, which are transcribed and then
// handled like typed ones. Call it before Start.
func (t *TelegramChannel) SetTranscriber(tr Transcriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.voice = tr
}

func (t *TelegramChannel) newBot() (*tele.Bot, error) {
	bot, err := tele.NewBot(tele.Settings{
		URL:    t.cfg.APIURL,
		Token:  t.cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, _ tele.Context) {
			t.logger.Warn("telegram error", zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	bot.Handle(tele.OnText, t.handle)
	if t.voice != nil {
		bot.Handle(tele.OnVoice, t.handleVoice)
	}
	return bot, nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return nil
	}

	bot, err := t.newBot()
	if err != nil {
		return err
	}
	t.bot = bot
	t.running = true
	t.stop = make(chan struct{})

	go bot.Start()

	stop := t.stop
	go func() {
		select {
		case <-ctx.Done():
			t.Stop(context.Background())
		case <-stop:
		}
	}()

	t.logger.Info("telegram bot started", zap.String("username", bot.Me.Username))
	return nil
}

func (t *TelegramChannel) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.bot.Stop()
	close(t.stop)
	t.running = false
	return nil
}

// handle turns an authorized text update into an InboundMessage.
func (t *TelegramChannel) handle(c tele.Context) error {
	handler := t.authorize(c)
	if handler == nil {
		return nil
	}
	t.notifyTyping(c)
	handler(t.inbound(c, c.Text()))
	return nil
}

// handleVoice transcribes an authorized voice message and passes the text
// on as if the player had typed it.
func (t *TelegramChannel) handleVoice(c tele.Context) error {
	handler := t.authorize(c)
	if handler == nil || c.Message().Voice == nil {
		return nil
	}
	t.notifyTyping(c)

	text, err := t.transcribe(c.Bot(), c.Message().Voice)
	if err != nil {
		t.logger.Warn("voice transcription failed", zap.Int64("chat_id", c.Chat().ID), zap.Error(err))
		return c.Send(voiceFailedReply)
	}
	if text == "" {
		return c.Send(voiceFailedReply)
	}
	t.logger.Debug("voice transcribed", zap.Int64("chat_id", c.Chat().ID), zap.Int("duration", c.Message().Voice.Duration))
	handler(t.inbound(c, text))
	return nil
}

func (t *TelegramChannel) transcribe(bot *tele.Bot, v *tele.Voice) (string, error) {
	t.mu.Lock()
	tr := t.voice
	t.mu.Unlock()
	if tr == nil {
		return "", errors.New("voice messages are not enabled")
	}

	rc, err := bot.File(&v.File)
	if err != nil {
		return "", fmt.Errorf("download voice: %w", err)
	}
	defer rc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), voiceTimeout)
	defer cancel()
	text, err := tr.Transcribe(ctx, rc, "voice.ogg")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// authorize returns the message handler when the sender of c may play, nil otherwise.
func (t *TelegramChannel) authorize(c tele.Context) func(InboundMessage) {
	sender := c.Sender()
	if sender == nil || c.Chat() == nil {
		return nil
	}

	if !t.auth.IsAllowed(sender.ID) {
		t.logger.Warn("unauthorized user",
			zap.Int64("user_id", sender.ID),
			zap.String("username", sender.Username),
		)
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

func (t *TelegramChannel) notifyTyping(c tele.Context) {
	if err := c.Notify(tele.Typing); err != nil {
		t.logger.Debug("typing notification failed", zap.Error(err))
	}
}

func (t *TelegramChannel) inbound(c tele.Context, text string) InboundMessage {
	sender := c.Sender()
	return InboundMessage{
		ChannelName: "telegram",
		UserID:      sender.ID,
		SenderName:  strings.TrimSpace(sender.FirstName + " " + sender.LastName),
		ChatID:      strconv.FormatInt(c.Chat().ID, 10),
		Text:        text,
		Timestamp:   time.Now(),
	}
}

func (t *TelegramChannel) Send(_ context.Context, msg OutboundMessage) error {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()

	if bot == nil {
		return fmt.Errorf("telegram bot not started")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	recipient := &tele.Chat{ID: chatID}

	for _, part := range splitMessage(msg.Text, telegramMessageLimit) {
		if _, err := bot.Send(recipient, part); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func (t *TelegramChannel) OnMessage(handler func(InboundMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *TelegramChannel) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// splitMessage cuts text into parts of at most limit runes, preferring to
// break after a newline.
func splitMessage(text string, limit int) []string {
	var parts []string
	for utf8.RuneCountInString(text) > limit {
		cut := 0
		for range limit {
			_, size := utf8.DecodeRuneInString(text[cut:])
			cut += size
		}
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
