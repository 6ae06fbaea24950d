package streaming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"syncroom/internal/core/domain"
)

// ConsumerState tracks a receiving transfer through its lifecycle.
type ConsumerState string

const (
	StateIdle       ConsumerState = "idle"
	StateRequesting ConsumerState = "requesting"
	StateReceiving  ConsumerState = "receiving"
	StateComplete   ConsumerState = "complete"
	StateReleased   ConsumerState = "released"
)

// Consumer reassembles a chunked transfer. Chunks may arrive in any order
// and any number of times; each index is stored at most once and verified
// against its checksum before it counts toward completion.
type Consumer struct {
	request    func(index int) error
	onComplete func()
	maxRetries int

	state   ConsumerState
	total   int
	data    [][]byte
	pending int
	retries map[int]int

	mu sync.Mutex
}

// NewConsumer builds an idle consumer. request is invoked once per chunk
// index on Begin and again for every retransmit; maxRetries bounds
// retransmits per index before the transfer aborts.
func NewConsumer(maxRetries int, request func(index int) error) *Consumer {
	return &Consumer{
		request:    request,
		maxRetries: maxRetries,
		state:      StateIdle,
		retries:    make(map[int]int),
	}
}

// SetOnComplete registers a callback fired exactly once when the last
// missing chunk verifies.
func (c *Consumer) SetOnComplete(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// Begin moves the consumer to Requesting and issues a request for every
// chunk index.
func (c *Consumer) Begin(totalChunks int) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("transfer already started (state %s)", c.state)
	}
	if totalChunks <= 0 {
		c.mu.Unlock()
		return fmt.Errorf("total chunks must be > 0, got %d", totalChunks)
	}
	c.total = totalChunks
	c.data = make([][]byte, totalChunks)
	c.pending = totalChunks
	c.state = StateRequesting
	c.mu.Unlock()

	for i := 0; i < totalChunks; i++ {
		if err := c.request(i); err != nil {
			return fmt.Errorf("request chunk %d: %w", i, err)
		}
	}
	return nil
}

// Accept verifies and stores one received chunk. Duplicates are a no-op. A
// checksum mismatch triggers a retransmit request; once an index exhausts
// its retries the transfer is aborted.
func (c *Consumer) Accept(chunk domain.Chunk) error {
	c.mu.Lock()

	if c.state == StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("transfer not started")
	}
	if c.state == StateComplete || c.state == StateReleased {
		// late chunk after completion or teardown; the peer channel can
		// still deliver while the session is closing
		c.mu.Unlock()
		return nil
	}
	if chunk.Index < 0 || chunk.Index >= c.total {
		c.mu.Unlock()
		return fmt.Errorf("chunk index %d out of range [0, %d)", chunk.Index, c.total)
	}
	if c.data[chunk.Index] != nil {
		c.mu.Unlock()
		return nil
	}

	sum := sha256.Sum256(chunk.Data)
	if hex.EncodeToString(sum[:]) != chunk.Checksum {
		c.retries[chunk.Index]++
		if c.retries[chunk.Index] > c.maxRetries {
			c.mu.Unlock()
			return fmt.Errorf("chunk %d failed verification %d times: %w",
				chunk.Index, c.retries[chunk.Index], domain.ErrTransferAborted)
		}
		request := c.request
		c.mu.Unlock()

		if err := request(chunk.Index); err != nil {
			return fmt.Errorf("re-request chunk %d: %w", chunk.Index, err)
		}
		return fmt.Errorf("chunk %d: %w", chunk.Index, domain.ErrChecksumMismatch)
	}

	stored := make([]byte, len(chunk.Data))
	copy(stored, chunk.Data)
	c.data[chunk.Index] = stored
	c.pending--
	c.state = StateReceiving

	if c.pending == 0 {
		c.state = StateComplete
		onComplete := c.onComplete
		c.mu.Unlock()
		if onComplete != nil {
			onComplete()
		}
		return nil
	}
	c.mu.Unlock()
	return nil
}

func (c *Consumer) State() ConsumerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Received reports how many distinct chunks have verified.
func (c *Consumer) Received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total - c.pending
}

// Bytes concatenates the reassembled source. Only valid once Complete.
func (c *Consumer) Bytes() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateComplete {
		return nil, fmt.Errorf("transfer not complete (state %s)", c.state)
	}
	size := 0
	for _, d := range c.data {
		size += len(d)
	}
	out := make([]byte, 0, size)
	for _, d := range c.data {
		out = append(out, d...)
	}
	return out, nil
}

// Release drops the chunk buffers and moves the consumer to its terminal
// state. Chunks delivered afterwards are discarded without error.
func (c *Consumer) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateReleased
	c.data = nil
	c.retries = nil
}
