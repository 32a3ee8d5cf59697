package cmd

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulateNeverOverfills(t *testing.T) {
	res, err := simulate(context.Background(), 5, 40, 2)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Active)
	assert.Equal(t, 5, res.Outcomes["ok"])
	total := 0
	for _, n := range res.Outcomes {
		total += n
	}
	assert.Equal(t, 80, total)
	// every member tries twice, so at least the winners hit their own registration
	assert.GreaterOrEqual(t, res.Outcomes["already_registered"], 5)

	var out bytes.Buffer
	res.print(&out)
	assert.Contains(t, out.String(), "active 5 / capacity 5")
}

func TestSimulateZeroCapacity(t *testing.T) {
	res, err := simulate(context.Background(), 0, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Active)
	assert.Equal(t, 3, res.Outcomes["event_full"])
}

func TestSimulateRejectsBadInput(t *testing.T) {
	_, err := simulate(context.Background(), 1, 0, 1)
	assert.Error(t, err)
	_, err = simulate(context.Background(), -1, 1, 1)
	assert.Error(t, err)
}

type fakePurger struct {
	calls atomic.Int32
	err   error
}

func (f *fakePurger) PurgeExpired(context.Context, time.Time) (int64, error) {
	f.calls.Add(1)
	return 2, f.err
}

func TestPurgeTokensRunsUntilCancelled(t *testing.T) {
	for _, perr := range []error{nil, errors.New("db down")} {
		p := &fakePurger{err: perr}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			purgeTokens(ctx, p, 5*time.Millisecond, zerolog.Nop())
			close(done)
		}()
		require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("purgeTokens did not stop")
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
}
