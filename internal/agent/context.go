package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pointcrash/ai-dm-bot/internal/campaign"
)

const excerptSeparator = "\n---\n"

// CampaignSource looks up the campaign and party of a chat.
type CampaignSource interface {
	GetCampaign(ctx context.Context, chatID string) (campaign.Campaign, error)
	Members(ctx context.Context, chatID string) ([]campaign.GroupMember, error)
	ActiveCharacter(ctx context.Context, userID int64) (campaign.Character, error)
}

// Retriever returns archived excerpts relevant to a message, best first.
type Retriever interface {
	Query(ctx context.Context, key, text string) ([]string, error)
}

// SummarySource returns the digest of evicted turns.
type SummarySource interface {
	Summary(ctx context.Context, key string) (string, error)
}

// ContextAssembler builds the system instruction for a completion call.
// Every collaborator is optional; a failing one drops its section only.
type ContextAssembler struct {
	campaigns CampaignSource
	retriever Retriever
	summaries SummarySource
	logger    *zap.Logger

	mu         sync.RWMutex
	basePrompt string
}

// NewContextAssembler returns an assembler. Nil collaborators are skipped.
func NewContextAssembler(basePrompt string, campaigns CampaignSource, retriever Retriever, summaries SummarySource, logger *zap.Logger) *ContextAssembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextAssembler{
		campaigns:  campaigns,
		retriever:  retriever,
		summaries:  summaries,
		logger:     logger.Named("context"),
		basePrompt: basePrompt,
	}
}

// SetBasePrompt swaps the role instructions used by later assemblies.
func (a *ContextAssembler) SetBasePrompt(prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.basePrompt = prompt
}

// BuildSystemContext concatenates the base prompt, the campaign, the party,
// the summary and the excerpts retrieved for message, in that order.
func (a *ContextAssembler) BuildSystemContext(ctx context.Context, key, message string) string {
	a.mu.RLock()
	sections := []string{a.basePrompt}
	a.mu.RUnlock()

	add := func(s string) {
		if s != "" {
			sections = append(sections, s)
		}
	}
	if a.campaigns != nil {
		add(a.campaignSection(ctx, key))
		add(a.partySection(ctx, key))
	}
	if a.summaries != nil {
		add(a.summarySection(ctx, key))
	}
	if a.retriever != nil {
		add(a.excerptSection(ctx, key, message))
	}
	return strings.Join(sections, "\n\n")
}

func (a *ContextAssembler) campaignSection(ctx context.Context, key string) string {
	c, err := a.campaigns.GetCampaign(ctx, key)
	if errors.Is(err, campaign.ErrNotFound) {
		return ""
	}
	if err != nil {
		a.omitted("campaign", key, err)
		return ""
	}
	if c.Empty() {
		return ""
	}
	return "Campaign:\n" + c.Format()
}

func (a *ContextAssembler) partySection(ctx context.Context, key string) string {
	members, err := a.campaigns.Members(ctx, key)
	if err != nil {
		a.omitted("party", key, err)
		return ""
	}
	if len(members) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Party members:")
	for _, m := range members {
		sb.WriteString("\n- ")
		c, err := a.campaigns.ActiveCharacter(ctx, m.UserID)
		switch {
		case err == nil && c.Name == m.CharacterName:
			sb.WriteString(c.Format())
		case err != nil && !errors.Is(err, campaign.ErrNotFound):
			a.logger.Warn("character sheet unavailable",
				zap.String("key", key),
				zap.String("character", m.CharacterName),
				zap.Error(err),
			)
			fallthrough
		default:
			sb.WriteString(m.CharacterName)
		}
	}
	return sb.String()
}

func (a *ContextAssembler) summarySection(ctx context.Context, key string) string {
	summary, err := a.summaries.Summary(ctx, key)
	if err != nil {
		a.omitted("summary", key, err)
		return ""
	}
	if summary == "" {
		return ""
	}
	return "Summary of earlier events:\n" + summary
}

func (a *ContextAssembler) excerptSection(ctx context.Context, key, message string) string {
	excerpts, err := a.retriever.Query(ctx, key, message)
	if err != nil {
		a.omitted("excerpts", key, err)
		return ""
	}
	if len(excerpts) == 0 {
		return ""
	}
	return "Relevant excerpts from earlier in the campaign:\n" + strings.Join(excerpts, excerptSeparator)
}

func (a *ContextAssembler) omitted(section, key string, err error) {
	a.logger.Warn("context section omitted",
		zap.String("section", section),
		zap.String("key", key),
		zap.Error(err),
	)
}
