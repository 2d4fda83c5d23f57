package command

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointcrash/ai-dm-bot/internal/campaign"
	"github.com/pointcrash/ai-dm-bot/internal/memory"
	"github.com/pointcrash/ai-dm-bot/internal/storage"
)

type fakeConversation struct {
	cleared []string
	summary string
	err     error
}

func (f *fakeConversation) FormattedHistory(_ context.Context, key string) (string, error) {
	return "history of " + key, nil
}

func (f *fakeConversation) ClearHistory(_ context.Context, key string) error {
	f.cleared = append(f.cleared, key)
	return nil
}

func (f *fakeConversation) CreateSummary(context.Context, string) (string, error) {
	return f.summary, f.err
}

type fakeUsage struct{}

func (fakeUsage) Formatted(_ context.Context, userID int64) (string, error) {
	return "stats", nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeConversation) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "cmd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := campaign.NewSQLiteStore(context.Background(), db)
	require.NoError(t, err)

	conv := &fakeConversation{summary: "The party met a goblin."}
	r := NewDefaultRegistry(Deps{
		Conversation: conv,
		Campaigns:    store,
		Usage:        fakeUsage{},
		Rand:         rand.New(rand.NewPCG(1, 1)),
	})
	return r, conv
}

func run(t *testing.T, r *Registry, text string, userID int64) string {
	t.Helper()
	name, args, ok := Parse(text)
	require.True(t, ok, text)
	out, err := r.Dispatch(context.Background(), name, Request{Key: "chat", UserID: userID, Args: args})
	require.NoError(t, err, text)
	return out
}

func TestParse(t *testing.T) {
	tests := []struct {
		text, name, args string
		ok               bool
	}{
		{"/roll 2d6", "roll", "2d6", true},
		{"/Roll@dmbot   3d8+1 ", "roll", "3d8+1", true},
		{"/help", "help", "", true},
		{"hello /roll", "", "", false},
		{"/", "", "", false},
		{"/@bot", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args, ok := Parse(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(New("b", "second", nil), New("a", "first", nil))
	assert.Equal(t, "/a - first\n/b - second", r.Help())

	_, err := r.Dispatch(context.Background(), "missing", Request{})
	assert.ErrorIs(t, err, ErrUnknownCommand)

	r.Unregister("a")
	assert.Len(t, r.List(), 1)
}

func TestDefaultRegistryHasAllCommands(t *testing.T) {
	r, _ := newTestRegistry(t)
	var names []string
	for _, c := range r.List() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{
		"start", "help", "history", "clear", "create_summary", "roll", "campaign",
		"setup_campaign", "delete_campaign", "group", "join", "leave", "remove_member", "character", "stats",
	}, names)

	help := run(t, r, "/help", 1)
	assert.Contains(t, help, "/roll - ")
	assert.Contains(t, run(t, r, "/start", 1), "Dungeon Master")
}

func TestHistoryCommands(t *testing.T) {
	r, conv := newTestRegistry(t)

	assert.Equal(t, "history of chat", run(t, r, "/history", 1))
	assert.Equal(t, clearMessage, run(t, r, "/clear", 1))
	assert.Equal(t, []string{"chat"}, conv.cleared)
	assert.Equal(t, "✅ Summary created:\n\nThe party met a goblin.", run(t, r, "/create_summary", 1))

	conv.err = memory.ErrEmptyHistory
	assert.Equal(t, emptySummaryReply, run(t, r, "/create_summary", 1))

	conv.err = assert.AnError
	_, err := r.Dispatch(context.Background(), "create_summary", Request{Key: "chat"})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRollCommand(t *testing.T) {
	r, _ := newTestRegistry(t)
	out := run(t, r, "/roll 2d6+1", 1)
	assert.True(t, strings.HasPrefix(out, "🎲 2d6+1: ["), out)
	assert.Equal(t, invalidRollMessage, run(t, r, "/roll banana", 1))
	assert.True(t, strings.HasPrefix(run(t, r, "/roll", 1), "🎲 1d20: ["))
}

func TestCampaignCommands(t *testing.T) {
	r, _ := newTestRegistry(t)

	assert.Equal(t, campaignUsage, run(t, r, "/campaign", 1))
	run(t, r, "/campaign theme dark fantasy", 1)
	run(t, r, "/campaign world Ravenloft", 1)
	out := run(t, r, "/campaign The mists close in.", 1)
	assert.Equal(t, "✅ Campaign updated:\n\nTheme: dark fantasy\nWorld: Ravenloft\nDescription: The mists close in.", out)

	assert.Contains(t, run(t, r, "/campaign", 1), "World: Ravenloft")

	assert.Equal(t, "Usage: /campaign theme <text>", run(t, r, "/campaign theme", 1))
	assert.Equal(t, "Usage: /campaign extras <text>", run(t, r, "/campaign EXTRAS   ", 1))
	assert.Contains(t, run(t, r, "/campaign", 1), "Theme: dark fantasy")
	assert.Contains(t, run(t, r, "/campaign structure one-shot", 1), "Game structure: one-shot")

	run(t, r, "/delete_campaign", 1)
	assert.Equal(t, campaignUsage, run(t, r, "/campaign", 1))
}

func answer(t *testing.T, r *Registry, text string, userID int64) (string, bool) {
	t.Helper()
	out, handled, err := r.Continue(context.Background(), Request{Key: "chat", UserID: userID, Args: text})
	require.NoError(t, err, text)
	return out, handled
}

func TestCampaignSetupDialog(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, handled := answer(t, r, "I open the door", 1)
	assert.False(t, handled)
	assert.Equal(t, setupNotActive, run(t, r, "/setup_campaign cancel", 1))

	run(t, r, "/campaign The mists close in.", 1)
	out := run(t, r, "/setup_campaign", 1)
	assert.Equal(t, setupIntro+setupSteps[0].question, out)

	// Other players of the chat are not part of the dialog.
	_, handled = answer(t, r, "I order an ale", 2)
	assert.False(t, handled)

	out, handled = answer(t, r, "   ", 1)
	assert.True(t, handled)
	assert.Equal(t, setupSteps[0].question, out)

	for i, a := range []string{"dark fantasy", "Ravenloft", "a paladin and a bard", "weekly sessions"} {
		out, handled = answer(t, r, a, 1)
		require.True(t, handled)
		assert.Equal(t, setupSteps[i+1].question, out)
	}
	// Nothing is saved before the last answer.
	assert.Equal(t, "🎭 Campaign:\n\nDescription: The mists close in.", run(t, r, "/campaign", 2))

	out, handled = answer(t, r, "vampires, curses", 1)
	require.True(t, handled)
	assert.Equal(t, "✅ Campaign settings saved!\n\n"+
		"Theme: dark fantasy\nWorld: Ravenloft\nDescription: The mists close in.\n"+
		"Party: a paladin and a bard\nGame structure: weekly sessions\nAdditional elements: vampires, curses", out)

	_, handled = answer(t, r, "I draw my sword", 1)
	assert.False(t, handled)
}

func TestCampaignSetupCancel(t *testing.T) {
	r, _ := newTestRegistry(t)

	run(t, r, "/setup_campaign", 1)
	_, handled := answer(t, r, "comedy", 1)
	require.True(t, handled)
	assert.Equal(t, setupCancelled, run(t, r, "/setup_campaign cancel", 1))

	_, handled = answer(t, r, "Waterdeep", 1)
	assert.False(t, handled)
	assert.Equal(t, campaignUsage, run(t, r, "/campaign", 1))
}

func TestCharacterAndGroupCommands(t *testing.T) {
	r, _ := newTestRegistry(t)

	assert.Contains(t, run(t, r, "/character", 1), "You have no characters yet.")
	assert.Equal(t, noActiveCharacter, run(t, r, "/join", 1))

	assert.Equal(t, characterUsage, run(t, r, "/character new Aria; elf", 1))
	assert.Equal(t, characterUsage, run(t, r, "/character new Aria; elf; wizard; zero", 1))
	assert.Contains(t, run(t, r, "/character new Aria; elf; wizard; 3", 1), "Character Aria created")
	assert.Equal(t, "You have no character named Borin.", run(t, r, "/character Borin", 1))
	assert.Equal(t, "⭐ Aria is now your active character.", run(t, r, "/character Aria", 1))
	assert.Contains(t, run(t, r, "/character", 1), "⭐ Aria, level 3 elf wizard")

	assert.Equal(t, "The group has no members yet.", run(t, r, "/group", 1))
	assert.Equal(t, "✅ Aria joined the group.", run(t, r, "/join", 1))
	assert.Equal(t, "Aria is already in the group.", run(t, r, "/join", 1))
	assert.Equal(t, "👥 Group members:\n\n• Aria", run(t, r, "/group", 1))

	assert.Equal(t, removeMemberUsage, run(t, r, "/remove_member", 1))
	assert.Equal(t, "No character named Borin in the group.", run(t, r, "/remove_member Borin", 1))
	assert.Equal(t, "Aria was removed from the group.", run(t, r, "/remove_member Aria", 1))

	run(t, r, "/join", 1)
	assert.Equal(t, "👋 You left the group.", run(t, r, "/leave", 1))
	assert.Equal(t, "You have no characters in this group.", run(t, r, "/leave", 1))

	assert.Equal(t, "stats", run(t, r, "/stats", 1))
}

func TestRegistryWithoutOptionalDeps(t *testing.T) {
	r := NewDefaultRegistry(Deps{})
	_, err := r.Get("history")
	assert.ErrorIs(t, err, ErrUnknownCommand)
	_, err = r.Get("roll")
	assert.NoError(t, err)
}
