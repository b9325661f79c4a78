package ops

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/db"
	"github.com/hpungsan/cardbox/internal/errors"
)

// FetchManyInput contains parameters for the FetchMany operation.
type FetchManyInput struct {
	// Graph is used for refs that do not name one
	Graph string
	Items []FetchManyRef
}

// FetchManyRef identifies a card.
type FetchManyRef struct {
	Graph string `json:"graph,omitempty"`
	Name  string `json:"name"`
}

// FetchManyOutput contains the result of the FetchMany operation.
type FetchManyOutput struct {
	Items  []card.Card      `json:"items"`
	Errors []FetchManyError `json:"errors"`
}

// FetchManyError represents an error for a specific ref.
type FetchManyError struct {
	Ref     FetchManyRef `json:"ref"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
}

// FetchMany retrieves a subset of cards by key, in recency order.
// Returns partial success with items and errors arrays.
func FetchMany(ctx context.Context, database *sql.DB, input FetchManyInput) (*FetchManyOutput, error) {
	if len(input.Items) > MaxFetchManyItems {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("at most %d items per request", MaxFetchManyItems))
	}

	var (
		keys []card.Key
		refs = map[card.Key]FetchManyRef{}
		errs []FetchManyError
	)
	for _, ref := range input.Items {
		graph := ref.Graph
		if graph == "" {
			graph = input.Graph
		}
		key, err := validateKey(graph, ref.Name)
		if err != nil {
			errs = append(errs, refToError(ref, err))
			continue
		}
		keys = append(keys, key)
		refs[key] = ref
	}

	items, err := db.ListByKeys(ctx, database, keys)
	if err != nil {
		return nil, err
	}

	found := make(map[card.Key]bool, len(items))
	for i := range items {
		found[items[i].Key()] = true
	}
	for _, key := range keys {
		if found[key] {
			continue
		}
		found[key] = true // report each missing key once
		errs = append(errs, refToError(refs[key], errors.NewNotFound(key.Graph, key.Name)))
	}

	if errs == nil {
		errs = []FetchManyError{}
	}
	return &FetchManyOutput{Items: items, Errors: errs}, nil
}

// refToError converts a fetch error to a FetchManyError.
func refToError(ref FetchManyRef, err error) FetchManyError {
	var code, message string

	if cErr, ok := err.(*errors.CardboxError); ok {
		code = string(cErr.Code)
		message = cErr.Message
	} else {
		code = string(errors.ErrInternal)
		message = err.Error()
	}

	return FetchManyError{
		Ref:     ref,
		Code:    code,
		Message: message,
	}
}
