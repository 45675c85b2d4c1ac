// SPDX-License-Identifier: MIT

package procpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capso/media-server/internal/mediaerr"
)

func newTestPool() *Pool {
	return New(Limits{Audio: 2, Probe: 2, Encode: 1})
}

func waitIdle(t *testing.T, p *Pool, class Class) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p.Active(class) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pool class %s did not return to baseline", class)
}

func TestSpawnReleasesOnExit(t *testing.T) {
	p := newTestPool()

	proc, err := p.Spawn(context.Background(), "true", nil, SpawnOpts{Class: ClassAudio})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Active(ClassAudio))

	code, err := proc.Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, code)
	waitIdle(t, p, ClassAudio)
}

func TestSpawnRecordsNonZeroExit(t *testing.T) {
	p := newTestPool()

	proc, err := p.Spawn(context.Background(), "false", nil, SpawnOpts{Class: ClassAudio})
	require.NoError(t, err)

	code, _ := proc.Wait(context.Background())
	assert.Equal(t, 1, code)
	waitIdle(t, p, ClassAudio)
}

func TestAdmissionCeiling(t *testing.T) {
	p := newTestPool()

	proc, err := p.Spawn(context.Background(), "sleep", []string{"30"}, SpawnOpts{Class: ClassEncode})
	require.NoError(t, err)
	defer func() {
		proc.Kill()
		<-proc.Done()
	}()

	assert.False(t, p.CanAccept(ClassEncode))

	_, err = p.Spawn(context.Background(), "sleep", []string{"30"}, SpawnOpts{Class: ClassEncode})
	require.Error(t, err)
	assert.True(t, mediaerr.Is(err, mediaerr.KindServerBusy))

	// The rejection must not leak a slot.
	assert.Equal(t, 1, p.Active(ClassEncode))
}

func TestAbsoluteTimeoutKillsChild(t *testing.T) {
	p := newTestPool()

	proc, err := p.Spawn(context.Background(), "sleep", []string{"30"}, SpawnOpts{
		Class:   ClassAudio,
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	select {
	case <-proc.Done():
	case <-time.After(15 * time.Second):
		t.Fatal("timed-out child was not reaped")
	}
	assert.True(t, proc.TimedOut())
	waitIdle(t, p, ClassAudio)
}

func TestContextCancelKillsChild(t *testing.T) {
	p := newTestPool()
	ctx, cancel := context.WithCancel(context.Background())

	proc, err := p.Spawn(ctx, "sleep", []string{"30"}, SpawnOpts{Class: ClassAudio})
	require.NoError(t, err)

	cancel()
	select {
	case <-proc.Done():
	case <-time.After(15 * time.Second):
		t.Fatal("cancelled child was not reaped")
	}
	assert.False(t, proc.TimedOut())
	waitIdle(t, p, ClassAudio)
}

func TestKillIsIdempotent(t *testing.T) {
	p := newTestPool()

	proc, err := p.Spawn(context.Background(), "sleep", []string{"30"}, SpawnOpts{Class: ClassAudio})
	require.NoError(t, err)

	proc.Kill()
	proc.Kill()
	<-proc.Done()
	waitIdle(t, p, ClassAudio)
}

func TestWaitHonoursContext(t *testing.T) {
	p := newTestPool()

	proc, err := p.Spawn(context.Background(), "sleep", []string{"30"}, SpawnOpts{Class: ClassAudio})
	require.NoError(t, err)
	defer func() {
		proc.Kill()
		<-proc.Done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = proc.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
