package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pointcrash/ai-dm-bot/internal/campaign"
)

const (
	setupIntro     = "Let's set up the campaign. Answer a few questions, or send /setup_campaign cancel to stop.\n\n"
	setupCancelled = "Campaign setup cancelled. Nothing was changed."
	setupNotActive = "There is no campaign setup in progress."
)

type setupStep struct {
	question string
	apply    func(c *campaign.Campaign, answer string)
}

var setupSteps = []setupStep{
	{
		question: "🎭 What theme do you want for the campaign? (heroic fantasy, dark fantasy, comedy and so on)",
		apply:    func(c *campaign.Campaign, a string) { c.Theme = a },
	},
	{
		question: "🌍 Which world or setting do you prefer? (Forgotten Realms, Dark Sun or an original world)",
		apply:    func(c *campaign.Campaign, a string) { c.World = a },
	},
	{
		question: "👥 Describe the characters you want to see in the party (classes, races, backgrounds)",
		apply:    func(c *campaign.Campaign, a string) { c.Party = a },
	},
	{
		question: "⏰ What will the structure of the game be? (how often and how long the sessions are)",
		apply:    func(c *campaign.Campaign, a string) { c.Structure = a },
	},
	{
		question: "✨ Which additional elements would you like to include? (magic, politics, dungeons and so on)",
		apply:    func(c *campaign.Campaign, a string) { c.Extras = a },
	},
}

type setupKey struct {
	chat string
	user int64
}

type setupState struct {
	step  int
	draft campaign.Campaign
}

// CampaignSetup asks a player for the campaign settings one question at a
// time. The answers are saved together once the last one is in.
type CampaignSetup struct {
	campaigns Campaigns

	mu      sync.Mutex
	pending map[setupKey]*setupState
}

// NewCampaignSetup creates the /setup_campaign dialog.
func NewCampaignSetup(campaigns Campaigns) *CampaignSetup {
	return &CampaignSetup{
		campaigns: campaigns,
		pending:   make(map[setupKey]*setupState),
	}
}

func (s *CampaignSetup) Name() string { return "setup_campaign" }
func (s *CampaignSetup) Description() string {
	return "set up the campaign step by step, /setup_campaign cancel to stop"
}

// Execute starts the dialog for the sender, or cancels it.
func (s *CampaignSetup) Execute(ctx context.Context, req Request) (string, error) {
	key := setupKey{chat: req.Key, user: req.UserID}

	if strings.EqualFold(req.Args, "cancel") {
		s.mu.Lock()
		_, ok := s.pending[key]
		delete(s.pending, key)
		s.mu.Unlock()
		if !ok {
			return setupNotActive, nil
		}
		return setupCancelled, nil
	}

	draft, err := s.campaigns.GetCampaign(ctx, req.Key)
	if err != nil && !errors.Is(err, campaign.ErrNotFound) {
		return "", err
	}
	draft.ChatID = req.Key

	s.mu.Lock()
	s.pending[key] = &setupState{draft: draft}
	s.mu.Unlock()
	return setupIntro + setupSteps[0].question, nil
}

// Continue records req.Args as the answer to the open question of the sender.
func (s *CampaignSetup) Continue(ctx context.Context, req Request) (string, bool, error) {
	key := setupKey{chat: req.Key, user: req.UserID}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.pending[key]
	if !ok {
		return "", false, nil
	}
	answer := strings.TrimSpace(req.Args)
	if answer == "" {
		return setupSteps[st.step].question, true, nil
	}

	setupSteps[st.step].apply(&st.draft, answer)
	st.step++
	if st.step < len(setupSteps) {
		return setupSteps[st.step].question, true, nil
	}

	delete(s.pending, key)
	st.draft.UpdatedAt = time.Time{}
	if err := s.campaigns.SaveCampaign(ctx, st.draft); err != nil {
		return "", true, err
	}
	return "✅ Campaign settings saved!\n\n" + st.draft.Format(), true, nil
}
