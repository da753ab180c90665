package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/fechatter/fechatter/internal/eventbus"
	"github.com/fechatter/fechatter/internal/models"
)

type opKind int

const (
	opUpsert opKind = iota
	opDelete
)

type batchOp struct {
	kind      opKind
	doc       MessageDoc
	messageID string
	env       models.EventEnvelope
}

const maxApplyAttempts = 3

// batcher accumulates subscribed envelopes on a single goroutine reading
// from a buffered channel, flushing whenever it fills to size or a timer
// fires, whichever comes first. This is the same bounded-window accumulator
// shape as a debounced cache write, just sized for index bulk calls instead
// of single keys.
type batcher struct {
	size    int
	timeout time.Duration
	apply   func(ctx context.Context, ops []batchOp) error
	onDead  func(op batchOp, err error)
	logger  *slog.Logger

	ops  chan batchOp
	done chan struct{}
}

func newBatcher(size int, timeout time.Duration, apply func(ctx context.Context, ops []batchOp) error, onDead func(op batchOp, err error), logger *slog.Logger) *batcher {
	return &batcher{
		size:    size,
		timeout: timeout,
		apply:   apply,
		onDead:  onDead,
		logger:  logger,
		ops:     make(chan batchOp, size*4),
		done:    make(chan struct{}),
	}
}

func (b *batcher) start() {
	go b.run()
}

func (b *batcher) stop() {
	close(b.done)
}

func (b *batcher) enqueue(op batchOp) {
	select {
	case b.ops <- op:
	case <-b.done:
	}
}

func (b *batcher) run() {
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	pending := make([]batchOp, 0, b.size)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = make([]batchOp, 0, b.size)
		b.applyWithRetry(batch)
	}

	for {
		select {
		case <-b.done:
			flush()
			return
		case op := <-b.ops:
			pending = append(pending, op)
			if len(pending) >= b.size {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(b.timeout)
			}
		case <-timer.C:
			flush()
			timer.Reset(b.timeout)
		}
	}
}

// applyWithRetry calls apply on the whole batch, retrying up to
// maxApplyAttempts total attempts on failure. Splitting permanent-looking
// failures (a malformed document that will never succeed) from transient
// ones isn't possible without inspecting Meilisearch's error further, so a
// batch that still fails after every attempt is dead-lettered op by op.
func (b *batcher) applyWithRetry(batch []batchOp) {
	var err error
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = b.apply(ctx, batch)
		cancel()
		if err == nil {
			return
		}
		if attempt < maxApplyAttempts {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}
	}

	for _, op := range batch {
		b.onDead(op, err)
	}
}

// applyBatch is the batcher's apply function: it splits the batch into
// upserts and deletes and issues one bulk AddDocuments/DeleteDocuments call
// per kind, rather than a call per message.
func (s *Service) applyBatch(ctx context.Context, ops []batchOp) error {
	var upserts []MessageDoc
	var deletes []string
	for _, op := range ops {
		switch op.kind {
		case opUpsert:
			upserts = append(upserts, op.doc)
		case opDelete:
			deletes = append(deletes, op.messageID)
		}
	}

	if len(upserts) > 0 {
		if _, err := s.index.AddDocuments(upserts, docOpts()); err != nil {
			return err
		}
	}
	if len(deletes) > 0 {
		if _, err := s.index.DeleteDocuments(deletes); err != nil {
			return err
		}
	}
	return nil
}

// deadLetter republishes an op that exhausted its retries so an operator can
// inspect and manually replay it; it never blocks the indexing pipeline on a
// bus failure.
func (s *Service) deadLetter(op batchOp, cause error) {
	s.logger.Error("search: dead-lettering index op after repeated failures",
		"subject", op.env.Subject, "event_id", op.env.EventID, "cause", cause)

	env, err := eventbus.NewEnvelope(eventbus.SubjectSearchDeadLetter, op.env.ChatID, op.env.UserID, op.env)
	if err != nil {
		s.logger.Error("search: building dead-letter envelope", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.bus.Publish(ctx, env); err != nil {
		s.logger.Error("search: publishing to dead-letter subject failed", "error", err)
	}
}
