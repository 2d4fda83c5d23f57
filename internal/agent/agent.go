// Package agent runs the game master: it records every turn in the bounded
// conversation memory, assembles the system context and asks the LLM for
// the next piece of narration.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pointcrash/ai-dm-bot/internal/campaign"
	"github.com/pointcrash/ai-dm-bot/internal/channel"
	"github.com/pointcrash/ai-dm-bot/internal/command"
	"github.com/pointcrash/ai-dm-bot/internal/eventbus"
	"github.com/pointcrash/ai-dm-bot/internal/llm"
	"github.com/pointcrash/ai-dm-bot/internal/memory"
	"github.com/pointcrash/ai-dm-bot/internal/security"
)

// ErrLimitReached is returned by HandleTurn when the player used up the request limit.
var ErrLimitReached = errors.New("request limit reached")

// Memory is the conversation memory the agent records turns in.
type Memory interface {
	Append(ctx context.Context, key string, role memory.Role, content string) error
	Turns(ctx context.Context, key string) ([]memory.Turn, error)
	Summary(ctx context.Context, key string) (string, error)
	Summarize(ctx context.Context, key string) (string, error)
	Reset(ctx context.Context, key string) error
	FormattedHistory(ctx context.Context, key string) (string, error)
}

// Completer produces the reply for a system context and a turn window.
type Completer interface {
	Generate(ctx context.Context, system string, turns []llm.Message) (*llm.LLMResponse, error)
}

// Characters resolves the character a player is currently playing.
type Characters interface {
	ActiveCharacter(ctx context.Context, userID int64) (campaign.Character, error)
}

// UsageTracker counts requests per player and tokens per conversation.
type UsageTracker interface {
	Allowed(ctx context.Context, userID int64, limit int) (bool, error)
	Increment(ctx context.Context, userID int64) error
	RecordTokens(ctx context.Context, key string, prompt, completion int) error
}

// Options configure an Agent. Memory, Completer and Assembler are required.
type Options struct {
	Memory     Memory
	Completer  Completer
	Assembler  *ContextAssembler
	Characters Characters
	Usage      UsageTracker
	Redactor   *security.Redactor
	Commands   *command.Registry
	Channels   *channel.Manager
	Bus        *eventbus.Bus
	Logger     *zap.Logger
	// RequestLimit caps the requests of one player; zero disables the cap.
	RequestLimit int
}

// Agent is the conversation orchestrator.
type Agent struct {
	memory     Memory
	completer  Completer
	assembler  *ContextAssembler
	characters Characters
	usage      UsageTracker
	redactor   *security.Redactor
	commands   *command.Registry
	channels   *channel.Manager
	bus        *eventbus.Bus
	logger     *zap.Logger

	mu           sync.RWMutex
	requestLimit int

	turnsMu sync.Mutex
	turnMu  map[string]*sync.Mutex
}

// New creates a new Agent.
func New(opts Options) (*Agent, error) {
	if opts.Memory == nil || opts.Completer == nil || opts.Assembler == nil {
		return nil, errors.New("agent requires memory, completer and assembler")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	commands := opts.Commands
	if commands == nil {
		commands = command.NewRegistry()
	}
	return &Agent{
		memory:       opts.Memory,
		completer:    opts.Completer,
		assembler:    opts.Assembler,
		characters:   opts.Characters,
		usage:        opts.Usage,
		redactor:     opts.Redactor,
		commands:     commands,
		channels:     opts.Channels,
		bus:          opts.Bus,
		logger:       logger.Named("agent"),
		requestLimit: opts.RequestLimit,
		turnMu:       make(map[string]*sync.Mutex),
	}, nil
}

// SetCommands replaces the command registry. Call it before Start.
func (a *Agent) SetCommands(r *command.Registry) {
	a.commands = r
}

// SetRequestLimit changes the per-player request limit.
func (a *Agent) SetRequestLimit(limit int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requestLimit = limit
}

// SetSystemPrompt changes the base instructions of later turns.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.assembler.SetBasePrompt(prompt)
}

// HandleTurn records message as the player's turn in conversation key and
// returns the game master's reply, which is recorded as well.
//
// Turns of one conversation run one at a time, from recording the player's
// message to recording the reply. The player's turn stays in memory when the
// completion fails; the error is then the *llm.CompletionError returned by
// the completer.
func (a *Agent) HandleTurn(ctx context.Context, key string, userID int64, message string) (string, error) {
	start := time.Now()

	if err := a.checkLimit(ctx, userID); err != nil {
		return "", err
	}

	unlock := a.lockTurn(key)
	defer unlock()

	if err := a.memory.Append(ctx, key, memory.RoleUser, a.playerTurn(ctx, userID, message)); err != nil {
		a.fail(key, fmt.Errorf("record player turn: %w", err))
	}
	turns, err := a.memory.Turns(ctx, key)
	if err != nil {
		return "", err
	}

	system := a.assembler.BuildSystemContext(ctx, key, message)
	resp, err := a.completer.Generate(ctx, system, memory.Messages(turns))
	if err != nil {
		a.fail(key, err)
		return "", err
	}

	if err := a.memory.Append(ctx, key, memory.RoleAssistant, resp.Content); err != nil {
		a.fail(key, fmt.Errorf("record reply: %w", err))
	}
	if a.usage != nil {
		if err := a.usage.RecordTokens(ctx, key, resp.Usage.InputTokens, resp.Usage.OutputTokens); err != nil {
			a.logger.Warn("record tokens failed", zap.String("key", key), zap.Error(err))
		}
	}

	a.bus.Publish(eventbus.TopicCompletion, eventbus.Completion{
		Key:          key,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Duration:     time.Since(start),
	})
	a.logger.Debug("turn handled",
		zap.String("key", key),
		zap.Int64("user", userID),
		zap.Int("window", len(turns)),
		zap.Int("tokens", resp.Usage.InputTokens+resp.Usage.OutputTokens),
	)
	return resp.Content, nil
}

// checkLimit counts the request, or refuses it when the player is over the limit.
// Usage bookkeeping failures never block play.
func (a *Agent) checkLimit(ctx context.Context, userID int64) error {
	if a.usage == nil {
		return nil
	}
	a.mu.RLock()
	limit := a.requestLimit
	a.mu.RUnlock()

	allowed, err := a.usage.Allowed(ctx, userID, limit)
	if err != nil {
		a.logger.Warn("usage check failed", zap.Int64("user", userID), zap.Error(err))
	} else if !allowed {
		return ErrLimitReached
	}
	if err := a.usage.Increment(ctx, userID); err != nil {
		a.logger.Warn("usage increment failed", zap.Int64("user", userID), zap.Error(err))
	}
	return nil
}

// playerTurn tags message with the speaker so the game master can tell the
// players of a group apart.
func (a *Agent) playerTurn(ctx context.Context, userID int64, message string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User ID: %d", userID)
	if a.characters != nil {
		c, err := a.characters.ActiveCharacter(ctx, userID)
		switch {
		case err == nil:
			fmt.Fprintf(&sb, "\n\nPlayer character:\nName: %s", c.Name)
		case !errors.Is(err, campaign.ErrNotFound):
			a.logger.Warn("active character lookup failed", zap.Int64("user", userID), zap.Error(err))
		}
	}
	sb.WriteString("\n\nPlayer wrote: ")
	sb.WriteString(a.redactor.Redact(message))
	return sb.String()
}

// lockTurn serializes the turns of key and returns the release func.
func (a *Agent) lockTurn(key string) func() {
	a.turnsMu.Lock()
	mu, ok := a.turnMu[key]
	if !ok {
		mu = &sync.Mutex{}
		a.turnMu[key] = mu
	}
	a.turnsMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (a *Agent) fail(key string, err error) {
	a.logger.Error("turn step failed", zap.String("key", key), zap.Error(err))
	a.bus.Publish(eventbus.TopicError, eventbus.Failure{Key: key, Component: "agent", Err: err})
}

// FormattedHistory renders the summary and current window of key.
func (a *Agent) FormattedHistory(ctx context.Context, key string) (string, error) {
	return a.memory.FormattedHistory(ctx, key)
}

// ClearHistory forgets everything recorded for key, including the archive.
func (a *Agent) ClearHistory(ctx context.Context, key string) error {
	defer a.lockTurn(key)()
	return a.memory.Reset(ctx, key)
}

// Summary returns the digest of the evicted turns of key.
func (a *Agent) Summary(ctx context.Context, key string) (string, error) {
	return a.memory.Summary(ctx, key)
}

// CreateSummary folds the current window of key into its summary.
func (a *Agent) CreateSummary(ctx context.Context, key string) (string, error) {
	defer a.lockTurn(key)()
	return a.memory.Summarize(ctx, key)
}
