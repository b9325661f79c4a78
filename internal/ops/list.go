package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/db"
	"github.com/hpungsan/cardbox/internal/errors"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Graph  string // required
	Limit  int    // default: 50, max: 500
	Offset int    // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []card.Card `json:"items"`
	Pagination Pagination  `json:"pagination"`
	Sort       string      `json:"sort"`
}

// List retrieves the cards of a graph, most recently modified first.
func List(ctx context.Context, database *sql.DB, input ListInput) (*ListOutput, error) {
	graph := strings.TrimSpace(input.Graph)
	if graph == "" {
		return nil, errors.NewInvalidRequest("graph is required")
	}

	// Apply limit defaults and bounds
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	// Ensure offset is non-negative
	offset := max(input.Offset, 0)

	items, err := db.ListByRecency(ctx, database, graph, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := db.Count(ctx, database, graph)
	if err != nil {
		return nil, err
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "time_desc",
	}, nil
}
