package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pointcrash/ai-dm-bot/internal/storage"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		chat_id TEXT PRIMARY KEY,
		theme TEXT NOT NULL DEFAULT '',
		world TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		chat_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		character_name TEXT NOT NULL,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (chat_id, character_name)
	)`,
	`CREATE TABLE IF NOT EXISTS characters (
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		race TEXT NOT NULL,
		class TEXT NOT NULL,
		level INTEGER NOT NULL DEFAULT 1,
		abilities TEXT NOT NULL DEFAULT '{}',
		hit_points INTEGER NOT NULL DEFAULT 0,
		equipment TEXT NOT NULL DEFAULT '[]',
		known_spells TEXT NOT NULL DEFAULT '[]',
		active INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, name)
	)`,
	`ALTER TABLE campaigns ADD COLUMN party TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE campaigns ADD COLUMN structure TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE campaigns ADD COLUMN extras TEXT NOT NULL DEFAULT ''`,
}

// SQLiteStore persists campaigns, party rosters and character sheets.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore migrates the campaign tables in db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if err := storage.Migrate(ctx, db, "campaign", migrations); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// GetCampaign returns the campaign of chatID or ErrNotFound.
func (s *SQLiteStore) GetCampaign(ctx context.Context, chatID string) (Campaign, error) {
	c := Campaign{ChatID: chatID}
	err := s.db.QueryRowContext(ctx,
		`SELECT theme, world, description, party, structure, extras, updated_at FROM campaigns WHERE chat_id = ?`,
		chatID,
	).Scan(&c.Theme, &c.World, &c.Description, &c.Party, &c.Structure, &c.Extras, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("campaign %s: %w", chatID, ErrNotFound)
	}
	return c, err
}

// SaveCampaign creates or replaces the campaign of c.ChatID.
func (s *SQLiteStore) SaveCampaign(ctx context.Context, c Campaign) error {
	if c.ChatID == "" {
		return fmt.Errorf("campaign: chat id: %w", ErrMissingField)
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO campaigns (chat_id, theme, world, description, party, structure, extras, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ChatID, c.Theme, c.World, c.Description, c.Party, c.Structure, c.Extras, c.UpdatedAt.UTC(),
	)
	return err
}

// DeleteCampaign removes the campaign of chatID. Deleting a missing campaign is not an error.
func (s *SQLiteStore) DeleteCampaign(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE chat_id = ?`, chatID)
	return err
}

// Members returns the party of chatID in joining order.
func (s *SQLiteStore) Members(ctx context.Context, chatID string) ([]GroupMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, character_name, joined_at FROM group_members WHERE chat_id = ? ORDER BY joined_at, rowid`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []GroupMember
	for rows.Next() {
		m := GroupMember{ChatID: chatID}
		if err := rows.Scan(&m.UserID, &m.CharacterName, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddMember adds a character to the party. A character name joins a party at most once.
func (s *SQLiteStore) AddMember(ctx context.Context, m GroupMember) error {
	if strings.TrimSpace(m.CharacterName) == "" {
		return fmt.Errorf("group member: character name: %w", ErrMissingField)
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_members (chat_id, user_id, character_name, joined_at) VALUES (?, ?, ?, ?)`,
		m.ChatID, m.UserID, m.CharacterName, m.JoinedAt.UTC(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", m.CharacterName, ErrDuplicateMember)
	}
	return nil
}

// RemoveMember removes a character from the party of chatID.
func (s *SQLiteStore) RemoveMember(ctx context.Context, chatID, characterName string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE chat_id = ? AND character_name = ?`,
		chatID, characterName,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group member %s: %w", characterName, ErrNotFound)
	}
	return nil
}

// RemoveUserMembers removes every character of userID from the party of chatID
// and returns how many left.
func (s *SQLiteStore) RemoveUserMembers(ctx context.Context, chatID string, userID int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE chat_id = ? AND user_id = ?`,
		chatID, userID,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SaveCharacter validates c and creates or replaces the sheet of (c.UserID, c.Name).
// The active flag is preserved for an existing sheet.
func (s *SQLiteStore) SaveCharacter(ctx context.Context, c Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	abilities, err := json.Marshal(c.Abilities)
	if err != nil {
		return err
	}
	equipment, err := json.Marshal(c.Equipment)
	if err != nil {
		return err
	}
	spells, err := json.Marshal(c.KnownSpells)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO characters (user_id, name, race, class, level, abilities, hit_points, equipment, known_spells, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET
			race = excluded.race,
			class = excluded.class,
			level = excluded.level,
			abilities = excluded.abilities,
			hit_points = excluded.hit_points,
			equipment = excluded.equipment,
			known_spells = excluded.known_spells`,
		c.UserID, c.Name, c.Race, c.Class, c.Level, string(abilities), c.HitPoints, string(equipment), string(spells), c.Active,
	)
	return err
}

const characterColumns = `name, race, class, level, abilities, hit_points, equipment, known_spells, active`

type scanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row scanner, userID int64) (Character, error) {
	c := Character{UserID: userID}
	var abilities, equipment, spells string
	if err := row.Scan(&c.Name, &c.Race, &c.Class, &c.Level, &abilities, &c.HitPoints, &equipment, &spells, &c.Active); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(abilities), &c.Abilities); err != nil {
		return c, fmt.Errorf("character %s abilities: %w", c.Name, err)
	}
	if err := json.Unmarshal([]byte(equipment), &c.Equipment); err != nil {
		return c, fmt.Errorf("character %s equipment: %w", c.Name, err)
	}
	if err := json.Unmarshal([]byte(spells), &c.KnownSpells); err != nil {
		return c, fmt.Errorf("character %s spells: %w", c.Name, err)
	}
	return c, nil
}

// Characters returns every sheet of userID ordered by name.
func (s *SQLiteStore) Characters(ctx context.Context, userID int64) ([]Character, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE user_id = ? ORDER BY name`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		c, err := scanCharacter(rows, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ActiveCharacter returns the active sheet of userID or ErrNotFound.
func (s *SQLiteStore) ActiveCharacter(ctx context.Context, userID int64) (Character, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE user_id = ? AND active = 1 LIMIT 1`,
		userID,
	)
	c, err := scanCharacter(row, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("active character of %d: %w", userID, ErrNotFound)
	}
	return c, err
}

// SetActiveCharacter makes name the only active sheet of userID. Nothing
// changes when the sheet does not exist.
func (s *SQLiteStore) SetActiveCharacter(ctx context.Context, userID int64, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM characters WHERE user_id = ? AND name = ?`, userID, name,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("character %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE characters SET active = (name = ?) WHERE user_id = ?`, name, userID,
	); err != nil {
		return err
	}
	return tx.Commit()
}
