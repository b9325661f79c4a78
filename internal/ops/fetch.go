package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/db"
	"github.com/hpungsan/cardbox/internal/errors"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	Graph string
	Name  string
}

// Fetch retrieves one card by key.
func Fetch(ctx context.Context, database *sql.DB, input FetchInput) (*card.Card, error) {
	key, err := validateKey(input.Graph, input.Name)
	if err != nil {
		return nil, err
	}

	c, err := db.Get(ctx, database, key)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.NewNotFound(key.Graph, key.Name)
	}
	return c, nil
}

// CountInput contains parameters for the Count operation.
type CountInput struct {
	Graph string
}

// CountOutput contains the result of the Count operation.
type CountOutput struct {
	Graph string `json:"graph"`
	Count int    `json:"count"`
}

// Count returns how many cards a graph has.
func Count(ctx context.Context, database *sql.DB, input CountInput) (*CountOutput, error) {
	if input.Graph == "" {
		return nil, errors.NewInvalidRequest("graph is required")
	}
	n, err := db.Count(ctx, database, input.Graph)
	if err != nil {
		return nil, err
	}
	return &CountOutput{Graph: input.Graph, Count: n}, nil
}
