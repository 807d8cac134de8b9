package auction_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pitchside/auction-engine/internal/auction"
	"github.com/pitchside/auction-engine/internal/fault"
)

func TestGetOrCreateConvergesUnderRace(t *testing.T) {
	env := newTestEnv(t, nil)

	const goroutines = 16
	sessions := make([]*auction.Session, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := env.registry.GetOrCreate(context.Background(), "t1")
			if err != nil {
				t.Errorf("goroutine %d: %v", i, err)
				return
			}
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if sessions[i] != sessions[0] {
			t.Fatalf("goroutine %d got a different session instance", i)
		}
	}
}

func TestGetOrCreateUnknownTournament(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.registry.GetOrCreate(context.Background(), "nope")
	var nf *fault.NotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompletedSessionDisposedAfterGrace(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.do(t, sess, auction.Command{Type: auction.CmdStart})
	env.do(t, sess, auction.Command{Type: auction.CmdEnd})

	// Still resident inside the grace window for trailing reads.
	if _, ok := env.registry.Get("t1"); !ok {
		t.Fatal("session should stay resident during grace period")
	}

	env.clock.Advance(6 * time.Minute)
	waitFor(t, func() bool {
		_, ok := env.registry.Get("t1")
		return !ok
	})
}

func TestShutdownClosesSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)

	env.registry.Shutdown()

	waitFor(t, func() bool {
		err := sess.Do(context.Background(), auction.Command{Type: auction.CmdStart})
		return errors.Is(err, auction.ErrSessionClosed)
	})
	if _, err := env.registry.GetOrCreate(context.Background(), "t1"); !errors.Is(err, auction.ErrSessionClosed) {
		t.Fatalf("expected closed registry, got %v", err)
	}
}
