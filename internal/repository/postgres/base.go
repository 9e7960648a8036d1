package postgres

import (
	"github.com/jmoiron/sqlx"
)

// BaseRepository carries the shared database handle. Concrete repositories
// embed it; field promotion gives them r.db directly.
type BaseRepository struct {
	db *sqlx.DB
}

func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}
