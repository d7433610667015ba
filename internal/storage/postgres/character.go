package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Bounds for character validation.
const (
	characterNameMinLen = 3
	characterNameMaxLen = 255
	initiativeModMin    = -5
	initiativeModMax    = 15
)

// Character is a named combatant template belonging to a campaign. PCs are
// permanent fixtures seeded into new encounters; NPCs are added per
// encounter, and temporary ones exist only for the encounter that created
// them.
type Character struct {
	ID            int64
	CampaignID    int64
	Name          string
	PC            bool
	Temporary     bool
	AvatarURL     *string
	InitiativeMod int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks field bounds.
//
// Postcondition: Returns nil or an error listing every violation.
func (c *Character) Validate() error {
	var problems []string
	if n := len(strings.TrimSpace(c.Name)); n < characterNameMinLen || n > characterNameMaxLen {
		problems = append(problems, fmt.Sprintf("name must be %d to %d characters", characterNameMinLen, characterNameMaxLen))
	}
	if c.InitiativeMod < initiativeModMin || c.InitiativeMod > initiativeModMax {
		problems = append(problems, fmt.Sprintf("initiative modifier must be between %d and %d", initiativeModMin, initiativeModMax))
	}
	if c.PC && c.Temporary {
		problems = append(problems, "a player character cannot be temporary")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCharacter, strings.Join(problems, "; "))
	}
	return nil
}

// ErrCharacterNotFound is returned when a character lookup yields no results.
var ErrCharacterNotFound = errors.New("character not found")

// ErrCharacterNameTaken is returned when creating a permanent character whose
// name is already used in the campaign.
var ErrCharacterNameTaken = errors.New("character name already taken")

// ErrInvalidCharacter is returned when character fields fail validation.
var ErrInvalidCharacter = errors.New("invalid character")

// CharacterRepository provides character persistence operations.
type CharacterRepository struct {
	db *pgxpool.Pool
}

// NewCharacterRepository creates a CharacterRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCharacterRepository(db *pgxpool.Pool) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// Create inserts a new character and returns it with ID and timestamps set.
//
// Precondition: c.CampaignID must reference an existing campaign.
// Postcondition: Returns the created character, ErrInvalidCharacter on bad
// fields, or ErrCharacterNameTaken when a permanent character reuses a name
// within the campaign. Temporary characters are exempt from the uniqueness
// rule.
func (r *CharacterRepository) Create(ctx context.Context, c *Character) (*Character, error) {
	c.Name = strings.TrimSpace(c.Name)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var out Character
	err := r.db.QueryRow(ctx, `
		INSERT INTO characters (campaign_id, name, pc, temporary, avatar_url, initiative_mod)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, campaign_id, name, pc, temporary, avatar_url, initiative_mod, created_at, updated_at`,
		c.CampaignID, c.Name, c.PC, c.Temporary, c.AvatarURL, c.InitiativeMod,
	).Scan(
		&out.ID, &out.CampaignID, &out.Name, &out.PC, &out.Temporary,
		&out.AvatarURL, &out.InitiativeMod, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrCharacterNameTaken
		}
		return nil, fmt.Errorf("inserting character: %w", err)
	}
	return &out, nil
}

// ListByCampaign returns all characters for the given campaign, ordered by name.
//
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *CharacterRepository) ListByCampaign(ctx context.Context, campaignID int64) ([]*Character, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, campaign_id, name, pc, temporary, avatar_url, initiative_mod, created_at, updated_at
		FROM characters WHERE campaign_id = $1 ORDER BY name ASC, id ASC`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	defer rows.Close()

	chars := make([]*Character, 0)
	for rows.Next() {
		var c Character
		if err := rows.Scan(
			&c.ID, &c.CampaignID, &c.Name, &c.PC, &c.Temporary,
			&c.AvatarURL, &c.InitiativeMod, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning character row: %w", err)
		}
		chars = append(chars, &c)
	}
	return chars, rows.Err()
}

// GetByID retrieves a character by its primary key.
//
// Postcondition: Returns the Character or ErrCharacterNotFound.
func (r *CharacterRepository) GetByID(ctx context.Context, id int64) (*Character, error) {
	var c Character
	err := r.db.QueryRow(ctx, `
		SELECT id, campaign_id, name, pc, temporary, avatar_url, initiative_mod, created_at, updated_at
		FROM characters WHERE id = $1`,
		id,
	).Scan(
		&c.ID, &c.CampaignID, &c.Name, &c.PC, &c.Temporary,
		&c.AvatarURL, &c.InitiativeMod, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCharacterNotFound
		}
		return nil, fmt.Errorf("querying character: %w", err)
	}
	return &c, nil
}

// Update persists name, avatar, and initiative modifier changes.
//
// Postcondition: Returns nil on success, ErrCharacterNotFound if no row
// updated, or ErrInvalidCharacter on bad fields.
func (r *CharacterRepository) Update(ctx context.Context, c *Character) error {
	c.Name = strings.TrimSpace(c.Name)
	if err := c.Validate(); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE characters SET name = $2, avatar_url = $3, initiative_mod = $4, updated_at = NOW()
		WHERE id = $1`,
		c.ID, c.Name, c.AvatarURL, c.InitiativeMod,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrCharacterNameTaken
		}
		return fmt.Errorf("updating character: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCharacterNotFound
	}
	return nil
}
