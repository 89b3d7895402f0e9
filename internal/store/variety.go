package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"farmhands/internal/decision"
	"farmhands/internal/variety"
)

var _ variety.Tracker = (*Store)(nil)

func (s *Store) Recent(ctx context.Context, agentID string) ([]decision.Animation, error) {
	var names []string
	err := s.Pool.QueryRow(ctx, `SELECT actions FROM agent_recent_actions WHERE agent_id = $1`, agentID).Scan(&names)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]decision.Animation, 0, len(names))
	for _, n := range names {
		out = append(out, decision.Animation(n))
	}
	return out, nil
}

// Record appends used and trims to the newest VarietyWindow names in a
// single upsert, so concurrent workers never lose each other's updates.
func (s *Store) Record(ctx context.Context, agentID string, used []decision.Animation) error {
	if len(used) == 0 {
		return nil
	}
	window := s.VarietyWindow
	if window <= 0 {
		window = variety.DefaultWindow
	}
	trimmed := variety.Append(nil, used, window)
	names := make([]string, 0, len(trimmed))
	for _, a := range trimmed {
		names = append(names, string(a))
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO agent_recent_actions AS r (agent_id, actions, updated_at)
		VALUES ($1, $2::text[], now())
		ON CONFLICT (agent_id) DO UPDATE SET
			actions = (r.actions || EXCLUDED.actions)[greatest(cardinality(r.actions || EXCLUDED.actions) - $3 + 1, 1):],
			updated_at = now()`,
		agentID, names, window)
	return err
}
