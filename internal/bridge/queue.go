package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/media"
	"github.com/zulandar/switchboard/internal/remote"
)

// Default queue tunables.
const (
	// DefaultSendSpacing is the fixed inter-send delay while draining,
	// respecting the remote network's rate limits.
	DefaultSendSpacing = 1500 * time.Millisecond
	// DefaultMaxSendAttempts abandons an entry after this many transient
	// failures so one poison entry cannot cycle forever.
	DefaultMaxSendAttempts = 5
	// defaultMediaMaxBytes is the size cap handed to the transcoder.
	defaultMediaMaxBytes = 16 << 20
)

// QueueToken identifies an enqueued entry.
type QueueToken uint64

// QueueEntry is one buffered outbound send.
type QueueEntry struct {
	Token      QueueToken
	Recipient  string
	Payload    remote.Payload
	EnqueuedAt time.Time
	Attempts   int
}

// OutboundQueue buffers outbound sends for one tenant while the remote
// session is not ready and replays them in FIFO order with spacing once it
// is. Transient failures re-enqueue at the tail; permanent failures drop
// the entry without blocking the rest of the queue.
type OutboundQueue struct {
	tenantID  string
	client    remote.Client
	ready     func() bool
	converter media.Converter
	notifier  *Notifier
	spacing   time.Duration
	maxTries  int
	out       io.Writer

	mu        sync.Mutex
	entries   []*QueueEntry
	draining  bool
	refill    bool // an entry arrived while a drain pass was running
	nextToken QueueToken
}

// OutboundQueueOpts holds parameters for creating an OutboundQueue.
type OutboundQueueOpts struct {
	TenantID  string
	Client    remote.Client
	Ready     func() bool     // session readiness probe
	Converter media.Converter // defaults to media.Passthrough
	Notifier  *Notifier       // optional
	Spacing   time.Duration   // defaults to DefaultSendSpacing
	MaxTries  int             // defaults to DefaultMaxSendAttempts
	Out       io.Writer       // defaults to os.Stdout
}

// NewOutboundQueue creates an empty OutboundQueue.
func NewOutboundQueue(opts OutboundQueueOpts) (*OutboundQueue, error) {
	if opts.TenantID == "" {
		return nil, fmt.Errorf("bridge: outbound queue: tenant id is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("bridge: outbound queue: remote client is required")
	}
	if opts.Ready == nil {
		return nil, fmt.Errorf("bridge: outbound queue: readiness probe is required")
	}
	q := &OutboundQueue{
		tenantID:  opts.TenantID,
		client:    opts.Client,
		ready:     opts.Ready,
		converter: opts.Converter,
		notifier:  opts.Notifier,
		spacing:   opts.Spacing,
		maxTries:  opts.MaxTries,
		out:       opts.Out,
	}
	if q.converter == nil {
		q.converter = media.Passthrough{}
	}
	if q.spacing <= 0 {
		q.spacing = DefaultSendSpacing
	}
	if q.maxTries <= 0 {
		q.maxTries = DefaultMaxSendAttempts
	}
	if q.out == nil {
		q.out = os.Stdout
	}
	return q, nil
}

// Enqueue appends a send to the tail. If the session is ready a drain pass
// starts immediately on its own goroutine.
func (q *OutboundQueue) Enqueue(recipient string, p remote.Payload) QueueToken {
	q.mu.Lock()
	q.nextToken++
	token := q.nextToken
	q.entries = append(q.entries, &QueueEntry{
		Token:      token,
		Recipient:  recipient,
		Payload:    p,
		EnqueuedAt: time.Now(),
	})
	kick := q.ready() && !q.draining
	if q.draining {
		// The running pass may already be past its final empty check;
		// endDrain re-kicks for entries that raced it.
		q.refill = true
	}
	q.mu.Unlock()

	if kick {
		go q.Drain(context.Background())
	}
	return token
}

// Depth returns the number of buffered entries.
func (q *OutboundQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Drain replays buffered entries in FIFO order until the queue is empty, the
// session stops reporting ready, or a transient failure stops the pass. At
// most one drain pass runs at a time per queue; extra calls return at once.
func (q *OutboundQueue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.refill = false
	q.mu.Unlock()

	defer q.endDrain(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		q.mu.Lock()
		if len(q.entries) == 0 || !q.ready() {
			q.mu.Unlock()
			return
		}
		entry := q.entries[0]
		q.entries = q.entries[1:]
		q.mu.Unlock()

		payload, ok := q.prepare(ctx, entry)
		if !ok {
			continue // dropped by conversion policy
		}

		err := q.client.Send(ctx, entry.Recipient, payload)
		if err == nil {
			fmt.Fprintf(q.out, "bridge: %s: delivered queued message %d to %s\n",
				q.tenantID, entry.Token, entry.Recipient)
			q.pause(ctx)
			continue
		}

		switch remote.Classify(err) {
		case remote.ClassPermanent, remote.ClassResource:
			q.drop(ctx, entry, err)
		default:
			// Transient (and auth, which the supervisor handles through
			// its own event): back to the tail, stop until next ready.
			entry.Attempts++
			if entry.Attempts >= q.maxTries {
				q.drop(ctx, entry, fmt.Errorf("after %d attempts: %w", entry.Attempts, err))
				continue
			}
			q.mu.Lock()
			q.entries = append(q.entries, entry)
			q.mu.Unlock()
			log.Printf("bridge: %s: transient send failure for %s (attempt %d), pausing drain: %v",
				q.tenantID, entry.Recipient, entry.Attempts, err)
			return
		}
	}
}

// endDrain clears the draining flag and starts a fresh pass when an enqueue
// raced the one that just ended. Without the handoff such an entry would sit
// until the next enqueue or ready transition.
func (q *OutboundQueue) endDrain(ctx context.Context) {
	q.mu.Lock()
	q.draining = false
	again := q.refill && len(q.entries) > 0 && q.ready()
	q.refill = false
	q.mu.Unlock()

	if again {
		go q.Drain(ctx)
	}
}

// prepare runs media payloads through the transcoding port. Returns the
// payload to send and whether to send at all.
func (q *OutboundQueue) prepare(ctx context.Context, entry *QueueEntry) (remote.Payload, bool) {
	p := entry.Payload
	if p.Media == nil {
		return p, true
	}

	converted, err := q.converter.Convert(ctx, p.Media, media.Constraints{MaxBytes: defaultMediaMaxBytes})
	if err == nil {
		p.Media = converted
		return p, true
	}

	switch media.FallbackPolicy(p.Kind) {
	case media.SendOriginal:
		log.Printf("bridge: %s: media conversion failed for %s, sending original: %v",
			q.tenantID, entry.Recipient, err)
		return p, true
	default:
		q.drop(ctx, entry, fmt.Errorf("media conversion: %w", err))
		return remote.Payload{}, false
	}
}

// drop abandons an entry, logging and surfacing it through the notifier.
func (q *OutboundQueue) drop(ctx context.Context, entry *QueueEntry, cause error) {
	log.Printf("bridge: %s: dropping queued message %d to %s: %v",
		q.tenantID, entry.Token, entry.Recipient, cause)
	if q.notifier != nil {
		q.notifier.EntryDropped(ctx, q.tenantID, entry.Recipient, cause)
	}
}

// pause applies the inter-send spacing, honoring cancellation.
func (q *OutboundQueue) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(q.spacing):
	}
}
