package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Round selectors accepted in place of an exact round name.
const (
	RoundCurrent = "current"
	RoundAll     = "all"
)

// ErrNoRounds is returned when round resolution finds nothing to run.
var ErrNoRounds = errors.New("no rounds resolved")

// ResolveRounds expands a round selector into exact round names.
//
//   - "current": the round in progress, as reported by the API
//   - "all": every round of the season, in API order
//   - anything else: used verbatim
func ResolveRounds(ctx context.Context, api API, leagueID, season int, selector string) ([]string, error) {
	selector = strings.TrimSpace(selector)
	switch strings.ToLower(selector) {
	case RoundCurrent, RoundAll:
	default:
		if selector == "" {
			return nil, ErrNoRounds
		}
		return []string{selector}, nil
	}

	current := strings.EqualFold(selector, RoundCurrent)
	rounds, _, err := api.Rounds(ctx, leagueID, season, current)
	if err != nil {
		return nil, newWorkListError(fmt.Sprintf("%d/%d", leagueID, season), fmt.Errorf("resolve round %q: %w", selector, err))
	}
	if len(rounds) == 0 {
		return nil, newWorkListError(fmt.Sprintf("%d/%d", leagueID, season), fmt.Errorf("resolve round %q: %w", selector, ErrNoRounds))
	}
	return rounds, nil
}
