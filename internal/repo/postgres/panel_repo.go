package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sinhamoca/verificacao-sub002/internal/domain/enums"
)

var ErrPanelNotFound = errors.New("panel not found")

type PanelRepo struct {
	pool *pgxpool.Pool
}

// PanelRecord carries the stored admin credentials for one remote panel
// account. Credentials never leave the fulfillment path.
type PanelRecord struct {
	ID        int64
	Name      string
	Family    enums.PanelFamily
	BaseURL   string
	Username  string
	Password  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewPanelRepo(pool *pgxpool.Pool) *PanelRepo {
	return &PanelRepo{pool: pool}
}

func (r *PanelRepo) FindByID(ctx context.Context, panelID int64) (PanelRecord, error) {
	if r.pool == nil {
		return PanelRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if panelID <= 0 {
		return PanelRecord{}, fmt.Errorf("invalid panel id")
	}

	var record PanelRecord
	err := r.pool.QueryRow(ctx, `
SELECT id, name, family, base_url, username, password, status, created_at, updated_at
FROM panels
WHERE id = $1
LIMIT 1
`, panelID).Scan(
		&record.ID,
		&record.Name,
		&record.Family,
		&record.BaseURL,
		&record.Username,
		&record.Password,
		&record.Status,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PanelRecord{}, ErrPanelNotFound
		}
		return PanelRecord{}, fmt.Errorf("find panel by id: %w", err)
	}

	return record, nil
}
