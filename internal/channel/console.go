package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ConsoleChannel reads player messages line by line and prints replies.
// It is used for local play-testing without a Telegram bot.
type ConsoleChannel struct {
	mu      sync.Mutex
	in      io.Reader
	out     io.Writer
	userID  int64
	handler func(InboundMessage)
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConsoleChannel reads from in and writes to out, attributing every line to userID.
func NewConsoleChannel(in io.Reader, out io.Writer, userID int64) *ConsoleChannel {
	return &ConsoleChannel{in: in, out: out, userID: userID}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.done = make(chan struct{})

	go c.readLoop(ctx)
	return nil
}

func (c *ConsoleChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	return nil
}

// Done is closed when the input is exhausted.
func (c *ConsoleChannel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *ConsoleChannel) Send(_ context.Context, msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "\n[DM]: %s\n\n> ", msg.Text)
	return err
}

func (c *ConsoleChannel) OnMessage(handler func(InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *ConsoleChannel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *ConsoleChannel) readLoop(ctx context.Context) {
	defer close(c.done)

	scanner := bufio.NewScanner(c.in)
	c.mu.Lock()
	fmt.Fprint(c.out, "> ")
	c.mu.Unlock()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()

		if handler != nil {
			handler(InboundMessage{
				ChannelName: "console",
				UserID:      c.userID,
				SenderName:  "Player",
				ChatID:      "console",
				Text:        text,
				Timestamp:   time.Now(),
			})
		}
	}
}
