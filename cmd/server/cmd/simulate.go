package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/club-events/internal/ledger"
	"github.com/iliyamo/club-events/internal/model"
)

var (
	simCapacity int
	simUsers    int
	simAttempts int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Race concurrent registrations against one in-memory event",
	Long: `Create one event with --capacity places in an in-memory ledger and let
--users members try to register at the same time, each --attempts times.
Prints how many attempts ended in each outcome and the final head count,
which never exceeds the capacity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := simulate(cmd.Context(), simCapacity, simUsers, simAttempts)
		if err != nil {
			return err
		}
		res.print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simCapacity, "capacity", 10, "places available on the event")
	simulateCmd.Flags().IntVar(&simUsers, "users", 100, "members registering concurrently")
	simulateCmd.Flags().IntVar(&simAttempts, "attempts", 1, "registration attempts per member")
}

type simResult struct {
	Capacity int
	Active   int
	Outcomes map[string]int
	Elapsed  time.Duration
}

func simulate(ctx context.Context, capacity, users, attempts int) (simResult, error) {
	if capacity < 0 || users < 1 || attempts < 1 {
		return simResult{}, fmt.Errorf("capacity must be >= 0, users and attempts >= 1")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	store := ledger.NewMemoryStore()
	l := ledger.New(store)
	now := time.Now().UTC()
	ev := store.PutEvent(model.Event{
		Name:          "simulated event",
		StartsAt:      now.Add(24 * time.Hour),
		DurationHours: 2,
		RegStartsAt:   now.Add(-time.Hour),
		Capacity:      &capacity,
	})

	var (
		mu       sync.Mutex
		outcomes = map[string]int{}
	)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for u := 1; u <= users; u++ {
		userID := uint64(u)
		for range attempts {
			g.Go(func() error {
				_, err := l.Admit(gctx, ev.ID, userID)
				outcome := "ok"
				if err != nil {
					if !ledger.IsBusiness(err) {
						return err
					}
					outcome = ledger.Code(err)
				}
				mu.Lock()
				outcomes[outcome]++
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return simResult{}, err
	}

	active, err := l.GetActiveCount(ctx, ev.ID)
	if err != nil {
		return simResult{}, err
	}
	return simResult{Capacity: capacity, Active: active, Outcomes: outcomes, Elapsed: time.Since(start)}, nil
}

func (r simResult) print(out io.Writer) {
	keys := make([]string, 0, len(r.Outcomes))
	for k := range r.Outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%-20s %d\n", k, r.Outcomes[k])
	}
	fmt.Fprintf(out, "active %d / capacity %d in %s\n", r.Active, r.Capacity, r.Elapsed.Round(time.Millisecond))
}
