package analysis

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ohowland/cgc_powerflow/internal/pkg/msg"
)

// SolveBatch solves independent cases concurrently, each in its own session.
// At most limit cases run at once; limit <= 0 means no bound. Reports are
// returned in the order of cases. The first failure cancels cases not yet
// started and is returned.
func SolveBatch(ctx context.Context, cfg Config, pub *msg.PubSub, cases []Case, limit int) ([]Report, error) {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	reports := make([]Report, len(cases))
	for i, c := range cases {
		i, c := i, c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return Run(cfg, pub, func(s *Session) error {
				report, err := s.Case(c)
				if err != nil {
					return fmt.Errorf("case %d %q: %w", i, c.Name, err)
				}
				reports[i] = report
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
