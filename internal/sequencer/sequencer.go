// Package sequencer enforces per-partition ordering of change events.
//
// For every partition key it keeps the next expected sequence number, holds
// messages that arrive ahead of it, and hands them back in ascending order once
// the gap closes. Buffered entries are indexed by sequence number so gaps of any
// size can be drained.
package sequencer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/kv"
)

const (
	DefaultBufferTTL    = time.Hour
	DefaultLockTTL      = 30 * time.Second
	DefaultLockWait     = 5 * time.Second
	DefaultLockInterval = 25 * time.Millisecond
)

// Position classifies a sequence number against the partition cursor.
type Position int

const (
	// InOrder means the sequence is exactly the expected one.
	InOrder Position = iota
	// Ahead means earlier sequences are still missing.
	Ahead
	// Stale means the sequence was already satisfied.
	Stale
)

func (p Position) String() string {
	switch p {
	case InOrder:
		return "in_order"
	case Ahead:
		return "ahead"
	case Stale:
		return "stale"
	}
	return "unknown"
}

type Options struct {
	BufferTTL    time.Duration
	LockTTL      time.Duration
	LockWait     time.Duration
	LockInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.BufferTTL <= 0 {
		o.BufferTTL = DefaultBufferTTL
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	if o.LockWait <= 0 {
		o.LockWait = DefaultLockWait
	}
	if o.LockInterval <= 0 {
		o.LockInterval = DefaultLockInterval
	}
}

type Sequencer struct {
	store kv.Store
	opts  Options
}

func New(store kv.Store, opts Options) *Sequencer {
	opts.setDefaults()
	return &Sequencer{store: store, opts: opts}
}

func cursorKey(pk string) string { return "seq:" + pk }
func indexKey(pk string) string  { return "buffer-index:" + pk }
func entryKey(pk string, seq int64) string {
	return "buffer:" + pk + ":" + strconv.FormatInt(seq, 10)
}

// Expected returns the next expected sequence for pk; an unseen partition starts at 0.
func (s *Sequencer) Expected(ctx context.Context, pk string) (int64, error) {
	raw, ok, err := s.store.Get(ctx, cursorKey(pk))
	if err != nil {
		return 0, cdc.Transient("read sequence cursor", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt sequence cursor for partition %s: %w", pk, err)
	}
	return n, nil
}

// Validate reports whether seq is the expected sequence for pk.
func (s *Sequencer) Validate(ctx context.Context, pk string, seq int64) (bool, error) {
	expected, err := s.Expected(ctx, pk)
	if err != nil {
		return false, err
	}
	return seq == expected, nil
}

// Classify places seq relative to the cursor and returns the cursor too.
func (s *Sequencer) Classify(ctx context.Context, pk string, seq int64) (Position, int64, error) {
	expected, err := s.Expected(ctx, pk)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case seq == expected:
		return InOrder, expected, nil
	case seq > expected:
		return Ahead, expected, nil
	default:
		return Stale, expected, nil
	}
}

// Require returns a *cdc.SequenceError unless seq is the expected sequence.
func (s *Sequencer) Require(ctx context.Context, pk string, seq int64) error {
	expected, err := s.Expected(ctx, pk)
	if err != nil {
		return err
	}
	if seq != expected {
		return &cdc.SequenceError{PartitionKey: pk, Expected: expected, Received: seq}
	}
	return nil
}

// Advance moves the cursor past seq. Call it once per message, after every
// downstream effect of that message was confirmed.
func (s *Sequencer) Advance(ctx context.Context, pk string, seq int64) error {
	if err := s.store.Set(ctx, cursorKey(pk), strconv.FormatInt(seq+1, 10), 0); err != nil {
		return cdc.Transient("advance sequence cursor", err)
	}
	return nil
}

// Buffer holds m until its predecessors were processed. Entries expire after BufferTTL.
func (s *Sequencer) Buffer(ctx context.Context, m cdc.Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode buffered message %s: %w", m.MessageID, err)
	}
	if err := s.store.Set(ctx, entryKey(m.PartitionKey, m.SequenceNumber), string(body), s.opts.BufferTTL); err != nil {
		return cdc.Transient("buffer message", err)
	}
	if err := s.store.IndexAdd(ctx, indexKey(m.PartitionKey), m.SequenceNumber, s.opts.BufferTTL); err != nil {
		return cdc.Transient("index buffered message", err)
	}
	return nil
}

// DrainReady returns the buffered messages at or after the cursor in ascending
// order. Entries stay buffered until Remove is called for them, so a failure
// while replaying does not lose what is still waiting.
func (s *Sequencer) DrainReady(ctx context.Context, pk string) ([]cdc.Message, error) {
	expected, err := s.Expected(ctx, pk)
	if err != nil {
		return nil, err
	}
	seqs, err := s.store.IndexRange(ctx, indexKey(pk), expected)
	if err != nil {
		return nil, cdc.Transient("read buffer index", err)
	}

	out := make([]cdc.Message, 0, len(seqs))
	var expired []int64
	for _, seq := range seqs {
		raw, ok, err := s.store.Get(ctx, entryKey(pk, seq))
		if err != nil {
			return nil, cdc.Transient("read buffered message", err)
		}
		if !ok {
			expired = append(expired, seq)
			continue
		}
		var m cdc.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode buffered message %s/%d: %w", pk, seq, err)
		}
		out = append(out, m)
	}

	if len(expired) > 0 {
		if err := s.store.IndexRemove(ctx, indexKey(pk), expired...); err != nil {
			return nil, cdc.Transient("prune buffer index", err)
		}
	}
	return out, nil
}

// Remove drops the buffered entry for seq.
func (s *Sequencer) Remove(ctx context.Context, pk string, seq int64) error {
	if err := s.store.Delete(ctx, entryKey(pk, seq)); err != nil {
		return cdc.Transient("remove buffered message", err)
	}
	if err := s.store.IndexRemove(ctx, indexKey(pk), seq); err != nil {
		return cdc.Transient("remove buffered index entry", err)
	}
	return nil
}
