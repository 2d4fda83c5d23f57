// Package command implements the slash commands players send to the bot.
package command

import (
	"context"
	"errors"
	"strings"
)

// ErrUnknownCommand is returned by Dispatch for a name nothing is registered under.
var ErrUnknownCommand = errors.New("unknown command")

// Request is one command invocation.
type Request struct {
	// Key identifies the conversation the command was sent in.
	Key        string
	UserID     int64
	SenderName string
	// Args is the text after the command name, trimmed.
	Args string
}

// Command is a chat command such as /roll.
type Command interface {
	Name() string
	Description() string
	Execute(ctx context.Context, req Request) (string, error)
}

// Dialog is a command that goes on asking questions, answered by the
// sender's next plain messages.
type Dialog interface {
	Command
	// Continue consumes req.Args as an answer. handled is false when no
	// question is open for the sender in req.Key.
	Continue(ctx context.Context, req Request) (reply string, handled bool, err error)
}

// Parse splits "/name@bot args" into name and args. ok is false when text
// is not a command.
func Parse(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
