// Package pump moves bytes between a transport and an emulator: a reader
// goroutine that drains the transport, a parser goroutine that batches
// chunks into the emulator, and a forwarder that writes terminal replies
// back to the transport.
package pump

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/biaogd/rivett/internal/emulator"
	"github.com/biaogd/rivett/internal/queue"
)

const (
	DefaultBufSize    = 32 * 1024
	DefaultBatchLimit = 100
)

// IsDisconnect reports whether a chunk is the end-of-stream sentinel.
func IsDisconnect(chunk []byte) bool {
	return len(chunk) == 0
}

// Reader copies transport output onto a queue, one chunk per read.
type Reader struct {
	Source  io.Reader
	Out     *queue.Queue[[]byte]
	BufSize int
	Logger  zerolog.Logger
}

// Run blocks until the transport ends or the queue is closed. At end of
// stream it pushes an empty sentinel chunk before closing the queue; on a
// read error it logs and closes the queue. Either way the consumer sees
// a disconnect.
func (r *Reader) Run() {
	size := r.BufSize
	if size <= 0 {
		size = DefaultBufSize
	}
	buf := make([]byte, size)
	defer r.Out.Close()

	total := 0
	for {
		n, err := r.Source.Read(buf)
		if n > 0 {
			total += n
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if r.Out.Push(chunk) != nil {
				r.Logger.Debug().Msg("output queue closed, reader exiting")
				return
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			r.Logger.Info().Int("bytes_total", total).Msg("transport reached end of stream")
			_ = r.Out.Push(nil)
			return
		}
		r.Logger.Warn().Err(err).Int("bytes_total", total).Msg("transport read failed")
		return
	}
}

// Start runs the reader on its own goroutine.
func (r *Reader) Start() {
	go r.Run()
}

// Parser feeds queued chunks to an emulator on a dedicated goroutine and
// publishes the resulting damage.
type Parser struct {
	emu        *emulator.Emulator
	in         *queue.Queue[[]byte]
	damage     *queue.Queue[emulator.Damage]
	batchLimit int
	logger     zerolog.Logger
	done       chan struct{}
}

// NewParser creates a parser that publishes to damage. batchLimit is how
// many extra queued chunks are folded into one emulator call.
func NewParser(emu *emulator.Emulator, damage *queue.Queue[emulator.Damage], batchLimit int, logger zerolog.Logger) *Parser {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &Parser{
		emu:        emu,
		in:         queue.New[[]byte](),
		damage:     damage,
		batchLimit: batchLimit,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start launches the parser goroutine.
func (p *Parser) Start() {
	go p.run()
}

// Submit queues a chunk. It fails once the parser has stopped, in which
// case the caller must process the chunk itself.
func (p *Parser) Submit(chunk []byte) error {
	return p.in.Push(chunk)
}

// Stop closes the input. Chunks already queued are still processed.
func (p *Parser) Stop() {
	p.in.Close()
}

// Done is closed when the parser goroutine exits.
func (p *Parser) Done() <-chan struct{} {
	return p.done
}

func (p *Parser) run() {
	defer close(p.done)
	// Later Submits fail and fall back to synchronous processing
	defer p.in.Close()

	for {
		chunk, err := p.in.Pop(context.Background())
		if err != nil {
			return
		}

		batch := chunk
		drained := 0
		for drained < p.batchLimit {
			next, ok := p.in.TryPop()
			if !ok {
				break
			}
			if len(batch) == len(chunk) {
				batch = append(make([]byte, 0, len(chunk)+len(next)), chunk...)
			}
			batch = append(batch, next...)
			drained++
		}

		p.emu.ProcessInput(batch)
		d := p.emu.TakeDamage()
		if d.Empty() {
			continue
		}
		if err := p.damage.Push(d); err != nil {
			p.logger.Debug().Msg("damage queue closed, parser exiting")
			return
		}
		if drained > 0 {
			p.logger.Trace().Int("chunks", drained+1).Int("bytes", len(batch)).Msg("parsed batch")
		}
	}
}

// ReplyWriter is the write half of a session.
type ReplyWriter interface {
	Write(ctx context.Context, data []byte) error
}

// ForwardReplies writes terminal-initiated bytes to w until the queue closes
// or ctx ends. A write that exceeds timeout is logged and skipped, since a
// slow link may recover; any other write error stops forwarding.
func ForwardReplies(ctx context.Context, replies *queue.Queue[[]byte], w ReplyWriter, timeout time.Duration, logger zerolog.Logger) {
	for {
		data, err := replies.Pop(ctx)
		if err != nil {
			return
		}

		wctx, cancel := context.WithTimeout(ctx, timeout)
		err = w.Write(wctx, data)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			logger.Warn().Int("bytes", len(data)).Dur("timeout", timeout).Msg("terminal reply write timed out")
		default:
			logger.Warn().Err(err).Msg("terminal reply write failed, forwarding stopped")
			return
		}
	}
}
