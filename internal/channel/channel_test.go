package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
)

// fakeBotAPI answers the Bot API methods the channel uses and records sent texts.
type fakeBotAPI struct {
	mu      sync.Mutex
	sent    []string
	actions []string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	_ = json.NewDecoder(r.Body).Decode(&params)

	switch {
	case strings.Contains(r.URL.Path, "/file/bot"):
		w.Write([]byte("OggS-voice"))
		return
	case strings.HasSuffix(r.URL.Path, "/getFile"):
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"file_id":"v1","file_unique_id":"u1","file_size":10,"file_path":"voice/file_1.oga"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"DM","username":"dmbot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.mu.Lock()
		f.sent = append(f.sent, params["text"].(string))
		f.mu.Unlock()
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendChatAction"):
		f.mu.Lock()
		f.actions = append(f.actions, params["action"].(string))
		f.mu.Unlock()
		w.Write([]byte(`{"ok":true,"result":true}`))
	default:
		w.Write([]byte(`{"ok":true,"result":[]}`))
	}
}

func newTestTelegram(t *testing.T, allowed []int64) (*TelegramChannel, *tele.Bot, *fakeBotAPI) {
	t.Helper()
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	ch := NewTelegramChannel(TelegramConfig{Token: "123:abc", AllowedIDs: allowed, APIURL: srv.URL}, nil)
	bot, err := ch.newBot()
	require.NoError(t, err)
	ch.bot = bot
	return ch, bot, api
}

func textUpdate(userID, chatID int64, text string) tele.Update {
	return tele.Update{Message: &tele.Message{
		Sender: &tele.User{ID: userID, FirstName: "Aria", LastName: "Vale"},
		Chat:   &tele.Chat{ID: chatID},
		Text:   text,
	}}
}

func TestTelegramHandleAuthorized(t *testing.T) {
	ch, bot, api := newTestTelegram(t, []int64{10})

	var got []InboundMessage
	ch.OnMessage(func(m InboundMessage) { got = append(got, m) })

	require.NoError(t, ch.handle(bot.NewContext(textUpdate(10, -100, "I open the door"))))
	require.NoError(t, ch.handle(bot.NewContext(textUpdate(99, -100, "let me in"))))

	require.Len(t, got, 1)
	assert.Equal(t, InboundMessage{
		ChannelName: "telegram",
		UserID:      10,
		SenderName:  "Aria Vale",
		ChatID:      "-100",
		Text:        "I open the door",
		Timestamp:   got[0].Timestamp,
	}, got[0])
	assert.Equal(t, []string{"typing"}, api.actions)
}

type fakeTranscriber struct {
	audio []string
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio io.Reader, filename string) (string, error) {
	data, _ := io.ReadAll(audio)
	f.audio = append(f.audio, filename+":"+string(data))
	return f.text, f.err
}

func voiceUpdate(userID, chatID int64) tele.Update {
	return tele.Update{Message: &tele.Message{
		Sender: &tele.User{ID: userID, FirstName: "Aria"},
		Chat:   &tele.Chat{ID: chatID},
		Voice:  &tele.Voice{File: tele.File{FileID: "v1"}, Duration: 3},
	}}
}

func TestTelegramVoiceIsTranscribed(t *testing.T) {
	ch, bot, api := newTestTelegram(t, []int64{10})
	tr := &fakeTranscriber{text: " I cast fireball "}
	ch.SetTranscriber(tr)

	var got []InboundMessage
	ch.OnMessage(func(m InboundMessage) { got = append(got, m) })

	require.NoError(t, ch.handleVoice(bot.NewContext(voiceUpdate(10, -100))))
	require.NoError(t, ch.handleVoice(bot.NewContext(voiceUpdate(99, -100))))

	require.Len(t, got, 1)
	assert.Equal(t, "I cast fireball", got[0].Text)
	assert.Equal(t, "-100", got[0].ChatID)
	assert.Equal(t, int64(10), got[0].UserID)
	assert.Equal(t, []string{"voice.ogg:OggS-voice"}, tr.audio)
	assert.Empty(t, api.sent)
}

func TestTelegramVoiceFailureIsReported(t *testing.T) {
	ch, bot, api := newTestTelegram(t, nil)
	tr := &fakeTranscriber{err: assert.AnError}
	ch.SetTranscriber(tr)

	var got []InboundMessage
	ch.OnMessage(func(m InboundMessage) { got = append(got, m) })

	require.NoError(t, ch.handleVoice(bot.NewContext(voiceUpdate(10, -100))))
	tr.err = nil
	tr.text = "   "
	require.NoError(t, ch.handleVoice(bot.NewContext(voiceUpdate(10, -100))))

	assert.Empty(t, got)
	assert.Equal(t, []string{voiceFailedReply, voiceFailedReply}, api.sent)
}

func TestTelegramVoiceWithoutTranscriber(t *testing.T) {
	ch, bot, api := newTestTelegram(t, nil)
	ch.OnMessage(func(InboundMessage) { t.Fatal("voice must not reach the handler") })

	require.NoError(t, ch.handleVoice(bot.NewContext(voiceUpdate(10, -100))))
	assert.Equal(t, []string{voiceFailedReply}, api.sent)
}

func TestTelegramSendSplitsLongMessages(t *testing.T) {
	ch, _, api := newTestTelegram(t, nil)

	long := strings.Repeat("The goblins charge.\n", 300)
	require.NoError(t, ch.Send(context.Background(), OutboundMessage{ChatID: "42", Text: long}))

	require.Greater(t, len(api.sent), 1)
	assert.Equal(t, long, strings.Join(api.sent, ""))

	assert.Error(t, ch.Send(context.Background(), OutboundMessage{ChatID: "not-a-number", Text: "x"}))
}

func TestTelegramSendBeforeStart(t *testing.T) {
	ch := NewTelegramChannel(TelegramConfig{Token: "t"}, nil)
	assert.Error(t, ch.Send(context.Background(), OutboundMessage{ChatID: "1", Text: "x"}))
	assert.False(t, ch.IsRunning())
	assert.NoError(t, ch.Stop(context.Background()))
}

func TestSplitMessage(t *testing.T) {
	assert.Nil(t, splitMessage("", 10))
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"line one\n", "line two"}, splitMessage("line one\nline two", 12))

	parts := splitMessage(strings.Repeat("дракон", 10), 7)
	for _, p := range parts {
		assert.True(t, utf8.ValidString(p))
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 7)
	}
	assert.Equal(t, strings.Repeat("дракон", 10), strings.Join(parts, ""))
}

func TestConsoleChannel(t *testing.T) {
	in := strings.NewReader("hello\n\n  /roll 2d6  \n")
	var out bytes.Buffer
	ch := NewConsoleChannel(in, &out, 7)

	var mu sync.Mutex
	var got []InboundMessage
	ch.OnMessage(func(m InboundMessage) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})

	require.NoError(t, ch.Start(context.Background()))
	select {
	case <-ch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("console did not finish reading")
	}

	mu.Lock()
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "/roll 2d6", got[1].Text)
	assert.Equal(t, int64(7), got[1].UserID)
	assert.Equal(t, "console", got[1].ChatID)
	mu.Unlock()

	require.NoError(t, ch.Send(context.Background(), OutboundMessage{Text: "You see a cave."}))
	assert.Contains(t, out.String(), "[DM]: You see a cave.")
	require.NoError(t, ch.Stop(context.Background()))
}

type fakeChannel struct {
	name     string
	running  bool
	startErr error
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}
func (f *fakeChannel) Stop(context.Context) error                 { f.running = false; return nil }
func (f *fakeChannel) Send(context.Context, OutboundMessage) error { return nil }
func (f *fakeChannel) OnMessage(func(InboundMessage))              {}
func (f *fakeChannel) IsRunning() bool                             { return f.running }

func TestManager(t *testing.T) {
	m := NewManager(nil)
	a := &fakeChannel{name: "b"}
	b := &fakeChannel{name: "a"}
	m.Register(a)
	m.Register(b)

	assert.Equal(t, []string{"a", "b"}, m.Names())
	require.NoError(t, m.StartAll(context.Background()))
	assert.Equal(t, map[string]bool{"a": true, "b": true}, m.List())

	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Same(t, b, got)

	m.StopAll(context.Background())
	assert.False(t, a.running)

	m.Register(&fakeChannel{name: "broken", startErr: assert.AnError})
	assert.ErrorIs(t, m.StartAll(context.Background()), assert.AnError)
}
