package httpcache

import (
	"io"
	"log/slog"
	"time"
)

// discardTimeout bounds how long a cache-writing body will drain the
// remaining upstream bytes when the consumer closes it before EOF. If the
// drain can't finish in time the partial entry is aborted instead of risking
// an unbounded block on Close.
const discardTimeout = 100 * time.Millisecond

// cacheWriteState is a one-shot flag: a cacheWritingBody ends in exactly one
// of committed or aborted, never both, regardless of which of EOF/error/early
// close triggers the transition.
type cacheWriteState int32

const (
	writing cacheWriteState = iota
	committed
	aborted
)

// cacheWritingBody tees bytes read from an upstream body into a CacheWriter
// as they are yielded to the consumer, committing the store entry on EOF and
// aborting it on any read error or undrained early close.
type cacheWritingBody struct {
	upstream io.ReadCloser
	writer   CacheWriter
	log      *slog.Logger

	state cacheWriteState
}

func newCacheWritingBody(upstream io.ReadCloser, writer CacheWriter, log *slog.Logger) io.ReadCloser {
	if writer == nil {
		return upstream
	}
	return &cacheWritingBody{upstream: upstream, writer: writer, log: log}
}

func (b *cacheWritingBody) Read(p []byte) (int, error) {
	n, err := b.upstream.Read(p)
	if n > 0 {
		if _, werr := b.writer.Write(p[:n]); werr != nil {
			b.logf("cache write failed, aborting entry", werr)
			b.finish(aborted)
		}
	}

	switch {
	case err == io.EOF:
		b.finish(committed)
	case err != nil:
		b.logf("upstream read failed, aborting cache entry", err)
		b.finish(aborted)
	}

	return n, err
}

func (b *cacheWritingBody) Close() error {
	if b.state == writing {
		b.drainAndFinish()
	}
	return b.upstream.Close()
}

// drainAndFinish attempts a bounded drain of the remaining upstream body so
// the cache entry can still be committed on an early consumer close; if the
// drain doesn't finish within discardTimeout the entry is aborted instead.
func (b *cacheWritingBody) drainAndFinish() {
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, &teeReader{r: b.upstream, w: b.writer})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			b.finish(aborted)
			return
		}
		b.finish(committed)
	case <-time.After(discardTimeout):
		b.finish(aborted)
	}
}

func (b *cacheWritingBody) finish(to cacheWriteState) {
	if b.state != writing {
		return
	}
	b.state = to

	var err error
	switch to {
	case committed:
		err = b.writer.Close()
	case aborted:
		err = b.writer.Abort()
	}
	if err != nil {
		b.logf("failed to finalize cache entry", err)
	}
}

func (b *cacheWritingBody) logf(msg string, err error) {
	if b.log != nil {
		b.log.Warn(msg, "error", err)
	}
}

// teeReader copies bytes read from r into w as they flow through, used by
// the bounded drain so partially-read bodies still get fully cached.
type teeReader struct {
	r io.Reader
	w CacheWriter
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if _, werr := t.w.Write(p[:n]); werr != nil {
			return n, werr
		}
	}
	return n, err
}
