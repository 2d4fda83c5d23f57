package command

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/pointcrash/ai-dm-bot/internal/campaign"
	"github.com/pointcrash/ai-dm-bot/internal/dice"
	"github.com/pointcrash/ai-dm-bot/internal/memory"
)

const (
	startMessage = "🎲 Welcome, adventurer! I am your Dungeon Master. " +
		"Describe what your character does and I will narrate the world around you.\n\n" +
		"Type /help to see the available commands."
	clearMessage       = "🧹 The conversation history has been cleared."
	emptySummaryReply  = "The conversation history is empty, there is nothing to summarize."
	campaignUsage      = "No campaign is set for this chat. Use /setup_campaign, or /campaign theme|world|party|structure|extras <text> or /campaign <description>."
	campaignFieldUsage = "Usage: /campaign %s <text>"
	characterUsage     = "Create a character with /character new <name>; <race>; <class>[; <level>]"
	noActiveCharacter  = "You have no active character. Choose one with /character <name>."
	removeMemberUsage  = "Usage: /remove_member <character name>"
	invalidRollMessage = "Invalid dice expression. Use NdM+K, for example /roll 2d6+3."
)

// Conversation is the memory surface the history commands act on.
type Conversation interface {
	FormattedHistory(ctx context.Context, key string) (string, error)
	ClearHistory(ctx context.Context, key string) error
	CreateSummary(ctx context.Context, key string) (string, error)
}

// Campaigns is the record store behind the campaign, group and character commands.
type Campaigns interface {
	GetCampaign(ctx context.Context, chatID string) (campaign.Campaign, error)
	SaveCampaign(ctx context.Context, c campaign.Campaign) error
	DeleteCampaign(ctx context.Context, chatID string) error
	Members(ctx context.Context, chatID string) ([]campaign.GroupMember, error)
	AddMember(ctx context.Context, m campaign.GroupMember) error
	RemoveMember(ctx context.Context, chatID, characterName string) error
	RemoveUserMembers(ctx context.Context, chatID string, userID int64) (int, error)
	SaveCharacter(ctx context.Context, c campaign.Character) error
	Characters(ctx context.Context, userID int64) ([]campaign.Character, error)
	ActiveCharacter(ctx context.Context, userID int64) (campaign.Character, error)
	SetActiveCharacter(ctx context.Context, userID int64, name string) error
}

// UsageStats renders a player's request statistics.
type UsageStats interface {
	Formatted(ctx context.Context, userID int64) (string, error)
}

// Deps are the collaborators of the built-in commands.
type Deps struct {
	Conversation Conversation
	Campaigns    Campaigns
	Usage        UsageStats
	// Rand seeds /roll; nil uses the global source.
	Rand *rand.Rand
}

type funcCommand struct {
	name        string
	description string
	run         func(ctx context.Context, req Request) (string, error)
}

func (c *funcCommand) Name() string        { return c.name }
func (c *funcCommand) Description() string { return c.description }
func (c *funcCommand) Execute(ctx context.Context, req Request) (string, error) {
	return c.run(ctx, req)
}

// New returns a Command backed by run.
func New(name, description string, run func(ctx context.Context, req Request) (string, error)) Command {
	return &funcCommand{name: name, description: description, run: run}
}

// NewDefaultRegistry registers every built-in command.
func NewDefaultRegistry(d Deps) *Registry {
	r := NewRegistry()
	r.Register(New("start", "introduction", func(context.Context, Request) (string, error) {
		return startMessage, nil
	}))
	r.Register(New("help", "list the commands", func(context.Context, Request) (string, error) {
		return "📖 Commands:\n\n" + r.Help(), nil
	}))
	r.Register(New("roll", "roll dice, e.g. /roll 2d6+3 (default 1d20)", d.roll))

	if d.Conversation != nil {
		r.Register(New("history", "show the conversation history", d.history))
		r.Register(New("clear", "forget the conversation", d.clear))
		r.Register(New("create_summary", "summarize the conversation so far", d.createSummary))
	}
	if d.Campaigns != nil {
		r.Register(New("campaign", "show or set the campaign: /campaign theme|world|party|structure|extras <text> or /campaign <description>", d.setCampaign))
		r.Register(NewCampaignSetup(d.Campaigns))
		r.Register(New("delete_campaign", "delete the campaign description", d.deleteCampaign))
		r.Register(New("group", "show the party", d.group))
		r.Register(New("join", "add your active character to the party", d.join))
		r.Register(New("leave", "remove your characters from the party", d.leave))
		r.Register(New("remove_member", "remove a character from the party", d.removeMember))
		r.Register(New("character", "list your characters, /character <name> to activate one, /character new to create one", d.character))
	}
	if d.Usage != nil {
		r.Register(New("stats", "show your usage statistics", d.stats))
	}
	return r
}

func (d Deps) roll(_ context.Context, req Request) (string, error) {
	res, err := dice.Roll(req.Args, d.Rand)
	if errors.Is(err, dice.ErrInvalidExpression) {
		return invalidRollMessage, nil
	}
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

func (d Deps) history(ctx context.Context, req Request) (string, error) {
	return d.Conversation.FormattedHistory(ctx, req.Key)
}

func (d Deps) clear(ctx context.Context, req Request) (string, error) {
	if err := d.Conversation.ClearHistory(ctx, req.Key); err != nil {
		return "", err
	}
	return clearMessage, nil
}

func (d Deps) createSummary(ctx context.Context, req Request) (string, error) {
	summary, err := d.Conversation.CreateSummary(ctx, req.Key)
	if errors.Is(err, memory.ErrEmptyHistory) {
		return emptySummaryReply, nil
	}
	if err != nil {
		return "", err
	}
	return "✅ Summary created:\n\n" + summary, nil
}

func (d Deps) setCampaign(ctx context.Context, req Request) (string, error) {
	c, err := d.Campaigns.GetCampaign(ctx, req.Key)
	if err != nil && !errors.Is(err, campaign.ErrNotFound) {
		return "", err
	}

	if req.Args == "" {
		if c.Empty() {
			return campaignUsage, nil
		}
		return "🎭 Campaign:\n\n" + c.Format(), nil
	}

	head, value, _ := strings.Cut(req.Args, " ")
	value = strings.TrimSpace(value)
	field := strings.ToLower(head)
	target, ok := map[string]*string{
		"theme":       &c.Theme,
		"world":       &c.World,
		"description": &c.Description,
		"party":       &c.Party,
		"structure":   &c.Structure,
		"extras":      &c.Extras,
	}[field]
	switch {
	case !ok:
		c.Description = req.Args
	case value == "":
		return fmt.Sprintf(campaignFieldUsage, field), nil
	default:
		*target = value
	}
	c.ChatID = req.Key
	c.UpdatedAt = time.Time{}
	if err := d.Campaigns.SaveCampaign(ctx, c); err != nil {
		return "", err
	}
	return "✅ Campaign updated:\n\n" + c.Format(), nil
}

func (d Deps) deleteCampaign(ctx context.Context, req Request) (string, error) {
	if err := d.Campaigns.DeleteCampaign(ctx, req.Key); err != nil {
		return "", err
	}
	return "🗑 The campaign description has been deleted.", nil
}

func (d Deps) group(ctx context.Context, req Request) (string, error) {
	members, err := d.Campaigns.Members(ctx, req.Key)
	if err != nil {
		return "", err
	}
	return campaign.FormatMembers(members), nil
}

func (d Deps) join(ctx context.Context, req Request) (string, error) {
	c, err := d.Campaigns.ActiveCharacter(ctx, req.UserID)
	if errors.Is(err, campaign.ErrNotFound) {
		return noActiveCharacter, nil
	}
	if err != nil {
		return "", err
	}

	err = d.Campaigns.AddMember(ctx, campaign.GroupMember{
		ChatID:        req.Key,
		UserID:        req.UserID,
		CharacterName: c.Name,
	})
	if errors.Is(err, campaign.ErrDuplicateMember) {
		return fmt.Sprintf("%s is already in the group.", c.Name), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ %s joined the group.", c.Name), nil
}

func (d Deps) leave(ctx context.Context, req Request) (string, error) {
	n, err := d.Campaigns.RemoveUserMembers(ctx, req.Key, req.UserID)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "You have no characters in this group.", nil
	}
	return "👋 You left the group.", nil
}

func (d Deps) removeMember(ctx context.Context, req Request) (string, error) {
	if req.Args == "" {
		return removeMemberUsage, nil
	}
	err := d.Campaigns.RemoveMember(ctx, req.Key, req.Args)
	if errors.Is(err, campaign.ErrNotFound) {
		return fmt.Sprintf("No character named %s in the group.", req.Args), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s was removed from the group.", req.Args), nil
}

func (d Deps) character(ctx context.Context, req Request) (string, error) {
	switch {
	case req.Args == "":
		return d.listCharacters(ctx, req.UserID)
	case req.Args == "new" || strings.HasPrefix(req.Args, "new "):
		return d.newCharacter(ctx, req.UserID, strings.TrimSpace(strings.TrimPrefix(req.Args, "new")))
	}

	err := d.Campaigns.SetActiveCharacter(ctx, req.UserID, req.Args)
	if errors.Is(err, campaign.ErrNotFound) {
		return fmt.Sprintf("You have no character named %s.", req.Args), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("⭐ %s is now your active character.", req.Args), nil
}

func (d Deps) listCharacters(ctx context.Context, userID int64) (string, error) {
	chars, err := d.Campaigns.Characters(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(chars) == 0 {
		return "You have no characters yet. " + characterUsage, nil
	}
	var sb strings.Builder
	sb.WriteString("🧙 Your characters:\n\n")
	for _, c := range chars {
		mark := "•"
		if c.Active {
			mark = "⭐"
		}
		fmt.Fprintf(&sb, "%s %s\n", mark, c.Format())
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// newCharacter parses "<name>; <race>; <class>[; <level>]".
func (d Deps) newCharacter(ctx context.Context, userID int64, def string) (string, error) {
	fields := strings.Split(def, ";")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) < 3 || len(fields) > 4 {
		return characterUsage, nil
	}

	c := campaign.Character{UserID: userID, Name: fields[0], Race: fields[1], Class: fields[2]}
	if len(fields) == 4 {
		level, err := strconv.Atoi(fields[3])
		if err != nil || level < 1 {
			return characterUsage, nil
		}
		c.Level = level
	}

	err := d.Campaigns.SaveCharacter(ctx, c)
	if errors.Is(err, campaign.ErrMissingField) {
		return characterUsage, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Character %s created. Activate it with /character %s", c.Name, c.Name), nil
}

func (d Deps) stats(ctx context.Context, req Request) (string, error) {
	return d.Usage.Formatted(ctx, req.UserID)
}
