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

// Campaign groups characters and encounters under one ongoing game.
type Campaign struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrCampaignNotFound is returned when a campaign lookup yields no results.
var ErrCampaignNotFound = errors.New("campaign not found")

// ErrInvalidCampaign is returned when campaign fields fail validation.
var ErrInvalidCampaign = errors.New("invalid campaign")

// CampaignRepository provides campaign persistence operations.
type CampaignRepository struct {
	db *pgxpool.Pool
}

// NewCampaignRepository creates a CampaignRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCampaignRepository(db *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new campaign.
//
// Postcondition: Returns the created Campaign with ID and timestamps set, or
// ErrInvalidCampaign when the name is blank or longer than 255 characters.
func (r *CampaignRepository) Create(ctx context.Context, name string) (*Campaign, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 255 {
		return nil, ErrInvalidCampaign
	}

	var c Campaign
	err := r.db.QueryRow(ctx,
		`INSERT INTO campaigns (name)
		 VALUES ($1)
		 RETURNING id, name, created_at, updated_at`,
		name,
	).Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting campaign: %w", err)
	}
	return &c, nil
}

// GetByID retrieves a campaign by its primary key.
//
// Postcondition: Returns the Campaign or ErrCampaignNotFound.
func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*Campaign, error) {
	var c Campaign
	err := r.db.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM campaigns WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("querying campaign: %w", err)
	}
	return &c, nil
}

// List returns all campaigns ordered by creation time.
func (r *CampaignRepository) List(ctx context.Context) ([]*Campaign, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, created_at, updated_at FROM campaigns ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := make([]*Campaign, 0)
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning campaign row: %w", err)
		}
		campaigns = append(campaigns, &c)
	}
	return campaigns, rows.Err()
}
