// Package campaign stores the records a game master consults while
// narrating: the campaign setting of a chat, the party roster and the
// players' character sheets.
package campaign

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("not found")
	// ErrMissingField is returned when a required field is empty.
	ErrMissingField = errors.New("missing required field")
	// ErrDuplicateMember is returned when a character is already in the party.
	ErrDuplicateMember = errors.New("character already in the group")
)

// Campaign describes the setting of one chat.
type Campaign struct {
	ChatID      string
	Theme       string
	World       string
	Description string
	// Party describes the characters the players want in the group.
	Party string
	// Structure is the session rhythm, such as weekly two-hour sessions.
	Structure string
	// Extras lists further elements to weave in: magic, politics, dungeons.
	Extras    string
	UpdatedAt time.Time
}

// Empty reports whether no field of the campaign has been set.
func (c Campaign) Empty() bool {
	return c.Theme == "" && c.World == "" && c.Description == "" &&
		c.Party == "" && c.Structure == "" && c.Extras == ""
}

// Format renders the campaign as prose for the system context.
func (c Campaign) Format() string {
	var sb strings.Builder
	if c.Theme != "" {
		fmt.Fprintf(&sb, "Theme: %s\n", c.Theme)
	}
	if c.World != "" {
		fmt.Fprintf(&sb, "World: %s\n", c.World)
	}
	if c.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", c.Description)
	}
	if c.Party != "" {
		fmt.Fprintf(&sb, "Party: %s\n", c.Party)
	}
	if c.Structure != "" {
		fmt.Fprintf(&sb, "Game structure: %s\n", c.Structure)
	}
	if c.Extras != "" {
		fmt.Fprintf(&sb, "Additional elements: %s\n", c.Extras)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// GroupMember is one character in a chat's party.
type GroupMember struct {
	ChatID        string
	UserID        int64
	CharacterName string
	JoinedAt      time.Time
}

// FormatMembers renders the party roster.
func FormatMembers(members []GroupMember) string {
	if len(members) == 0 {
		return "The group has no members yet."
	}
	var sb strings.Builder
	sb.WriteString("👥 Group members:\n\n")
	for _, m := range members {
		fmt.Fprintf(&sb, "• %s\n", m.CharacterName)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Character is a player's character sheet.
type Character struct {
	UserID      int64
	Name        string
	Race        string
	Class       string
	Level       int
	Abilities   map[string]int
	HitPoints   int
	Equipment   []string
	KnownSpells []string
	Active      bool
}

// Validate checks required fields and applies defaults: level 1 and
// empty collections rather than nil ones.
func (c *Character) Validate() error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return fmt.Errorf("character: name: %w", ErrMissingField)
	case strings.TrimSpace(c.Race) == "":
		return fmt.Errorf("character %s: race: %w", c.Name, ErrMissingField)
	case strings.TrimSpace(c.Class) == "":
		return fmt.Errorf("character %s: class: %w", c.Name, ErrMissingField)
	}
	if c.Level < 1 {
		c.Level = 1
	}
	if c.HitPoints < 0 {
		return fmt.Errorf("character %s: negative hit points %d", c.Name, c.HitPoints)
	}
	if c.Abilities == nil {
		c.Abilities = map[string]int{}
	}
	if c.Equipment == nil {
		c.Equipment = []string{}
	}
	if c.KnownSpells == nil {
		c.KnownSpells = []string{}
	}
	return nil
}

// Format renders the sheet as prose for the system context.
func (c Character) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s, level %d %s %s", c.Name, c.Level, c.Race, c.Class)
	if c.HitPoints > 0 {
		fmt.Fprintf(&sb, ", %d HP", c.HitPoints)
	}
	if len(c.Abilities) > 0 {
		names := make([]string, 0, len(c.Abilities))
		for name := range c.Abilities {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s %d", name, c.Abilities[name])
		}
		fmt.Fprintf(&sb, "\n  Abilities: %s", strings.Join(parts, ", "))
	}
	if len(c.Equipment) > 0 {
		fmt.Fprintf(&sb, "\n  Equipment: %s", strings.Join(c.Equipment, ", "))
	}
	if len(c.KnownSpells) > 0 {
		fmt.Fprintf(&sb, "\n  Known spells: %s", strings.Join(c.KnownSpells, ", "))
	}
	return sb.String()
}
