// SPDX-License-Identifier: MIT

package audio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/procpool"
)

const (
	// streamChunkSize is the read granularity of the pump goroutine.
	streamChunkSize = 32 * 1024
	// streamHighWater bounds buffered chunks between ffmpeg and the consumer.
	streamHighWater = 4
)

// Stream delivers extracted MP3 audio chunk by chunk. Consumer cancellation,
// subprocess exit and the absolute timeout all converge on the same
// idempotent Cleanup.
type Stream struct {
	ch     chan []byte
	proc   *procpool.Process
	cancel context.CancelFunc

	cleanupOnce sync.Once

	mu  sync.Mutex
	err error
}

// Chunks returns the bounded chunk channel. It is closed when the source
// ends, fails, or the stream is cleaned up.
func (st *Stream) Chunks() <-chan []byte { return st.ch }

// Err reports the terminal error, valid once Chunks is closed.
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

func (st *Stream) setErr(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.err == nil {
		st.err = err
	}
}

// Cleanup tears the stream down: cancels the pump, kills the child and lets
// the pool reaper release the slot. Safe to call any number of times, from
// any goroutine.
func (st *Stream) Cleanup() {
	st.cleanupOnce.Do(func() {
		st.cancel()
		st.proc.Kill()
	})
}

// ExtractStream starts a streaming MP3 extraction. The caller must drain
// Chunks and call Cleanup when done (Cleanup after natural EOF is still
// required and harmless).
func (s *Service) ExtractStream(ctx context.Context, url string) (*Stream, error) {
	input, err := s.inputArgs(url)
	if err != nil {
		return nil, err
	}
	args := append(append([]string{"-hide_banner"}, input...),
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", "128k",
		"-f", "mp3",
		"pipe:1",
	)

	streamCtx, cancel := context.WithCancel(ctx)

	proc, err := s.pool.Spawn(streamCtx, s.bin, args, procpool.SpawnOpts{
		Class:   procpool.ClassAudio,
		Timeout: ExtractTimeout,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	st := &Stream{
		ch:     make(chan []byte, streamHighWater),
		proc:   proc,
		cancel: cancel,
	}

	stderrCh := make(chan []byte, 1)
	go func() {
		tail, _ := procpool.ReadLimit(proc.Stderr, procpool.StderrTailLimit)
		stderrCh <- tail
	}()

	// Pump: small high-water mark keeps memory bounded; the pump exits when
	// the source ends or the stream context fires.
	go func() {
		defer close(st.ch)

		for {
			buf := make([]byte, streamChunkSize)
			n, readErr := proc.Stdout.Read(buf)
			if n > 0 {
				select {
				case st.ch <- buf[:n]:
				case <-streamCtx.Done():
					st.Cleanup()
					procpool.Drain(proc.Stdout)
					<-proc.Done()
					<-stderrCh
					return
				}
			}
			if readErr != nil {
				exitCode, _ := proc.Wait(context.Background())
				stderrTail := <-stderrCh
				switch {
				case proc.TimedOut():
					st.setErr(mediaerr.New(mediaerr.KindTimeout, "audio extraction timed out"))
				case streamCtx.Err() != nil:
					// consumer cancelled, not an error
				case readErr != io.EOF:
					st.setErr(mediaerr.Wrap(mediaerr.KindFFmpegError, "audio stream read failed", readErr).
						WithDetails(string(stderrTail)))
				case exitCode != 0:
					st.setErr(mediaerr.New(mediaerr.KindFFmpegError,
						fmt.Sprintf("ffmpeg exited with code %d", exitCode)).
						WithDetails(string(stderrTail)))
				}
				return
			}
		}
	}()

	return st, nil
}
