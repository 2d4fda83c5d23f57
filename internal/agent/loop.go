package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pointcrash/ai-dm-bot/internal/channel"
	"github.com/pointcrash/ai-dm-bot/internal/command"
	"github.com/pointcrash/ai-dm-bot/internal/eventbus"
	"github.com/pointcrash/ai-dm-bot/internal/llm"
	"github.com/pointcrash/ai-dm-bot/internal/logging"
)

const (
	errorReply       = "Sorry, something went wrong while handling your message. Please try again."
	completionReply  = "The Dungeon Master is lost in thought and could not answer. Please try again in a moment."
	limitReplyFormat = "You have reached the limit of %d requests. Check /stats for your usage."
)

// Start routes the messages of every registered channel to the agent.
// Call it before the channels are started so no message is missed.
func (a *Agent) Start(ctx context.Context) {
	if a.channels == nil {
		return
	}
	for _, name := range a.channels.Names() {
		ch, ok := a.channels.Get(name)
		if !ok {
			continue
		}
		ch.OnMessage(func(msg channel.InboundMessage) {
			a.bus.Publish(eventbus.TopicInboundMessage, msg)
			a.handleMessage(ctx, msg)
		})
	}
	a.logger.Info("listening for messages", zap.Strings("channels", a.channels.Names()))
}

// handleMessage processes an inbound message and sends the reply back.
func (a *Agent) handleMessage(ctx context.Context, msg channel.InboundMessage) {
	a.logger.Debug("message received",
		zap.String("channel", msg.ChannelName),
		zap.String("chat", msg.ChatID),
		zap.String("sender", msg.SenderName),
		zap.String("text", logging.Truncate(msg.Text, 100)),
	)

	reply := a.Reply(ctx, msg)

	ch, ok := a.channels.Get(msg.ChannelName)
	if !ok {
		a.logger.Warn("channel not found", zap.String("channel", msg.ChannelName))
		return
	}
	out := channel.OutboundMessage{ChatID: msg.ChatID, Text: reply}
	a.bus.Publish(eventbus.TopicOutboundMessage, out)
	if err := ch.Send(ctx, out); err != nil {
		a.logger.Error("send reply failed", zap.String("channel", msg.ChannelName), zap.Error(err))
	}
}

// Reply answers msg with a command result or the next piece of narration.
// Failures are turned into plain-text replies.
func (a *Agent) Reply(ctx context.Context, msg channel.InboundMessage) string {
	key := msg.ChatID

	req := command.Request{Key: key, UserID: msg.UserID, SenderName: msg.SenderName}

	if name, args, ok := command.Parse(msg.Text); ok {
		req.Args = args
		out, err := a.commands.Dispatch(ctx, name, req)
		if errors.Is(err, command.ErrUnknownCommand) {
			return fmt.Sprintf("Unknown command /%s. Type /help to see the available commands.", name)
		}
		if err != nil {
			a.logger.Error("command failed", zap.String("command", name), zap.String("key", key), zap.Error(err))
			return errorReply
		}
		return out
	}

	req.Args = msg.Text
	if out, handled, err := a.commands.Continue(ctx, req); handled {
		if err != nil {
			a.logger.Error("dialog failed", zap.String("key", key), zap.Error(err))
			return errorReply
		}
		return out
	}

	reply, err := a.HandleTurn(ctx, key, msg.UserID, msg.Text)
	if err == nil {
		return reply
	}

	a.mu.RLock()
	limit := a.requestLimit
	a.mu.RUnlock()
	switch {
	case errors.Is(err, ErrLimitReached):
		return fmt.Sprintf(limitReplyFormat, limit)
	case llm.IsCompletionError(err):
		return completionReply
	default:
		return errorReply
	}
}
