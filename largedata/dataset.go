package largedata

import (
	"fmt"
	"sort"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/limits"
)

// Key identifies the message a fragment belongs to.
type Key struct {
	Source         jaus.Address
	CommandCode    uint16
	PresenceVector uint64
	Identifier     uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/0x%04X/pv=%d/id=%d", k.Source, k.CommandCode, k.PresenceVector, k.Identifier)
}

// KeyFunc derives the reassembly key for a fragment. A message factory that
// understands payloads can supply presence vector and identifier here.
type KeyFunc func(h jaus.Header, s *jaus.Stream) Key

// DefaultKey keys fragments by source address and command code only.
func DefaultKey(h jaus.Header, _ *jaus.Stream) Key {
	return Key{Source: h.Source, CommandCode: h.CommandCode}
}

type fragment struct {
	seq    int
	header jaus.Header // as declared on the wire
	stream *jaus.Stream
}

// DataSet accumulates the fragments of one large message.
//
// A DataSet is not safe for concurrent use; Collector serializes access.
type DataSet struct {
	key       Key
	fragments []fragment // ascending sequence order
	missing   map[int]struct{}

	base, max int
	firstSeq  int
	lastSeq   int
	haveFirst bool
	haveLast  bool
	complete  bool

	updated time.Time
	tp      TimeProvider
}

// Start creates a data set from its first received fragment, which need not
// be the DataFirst fragment. A DataSingle frame yields a set that is
// complete immediately.
func Start(first *jaus.Stream) (*DataSet, error) {
	return startWith(first, DefaultKey, defaultTimeProvider)
}

func startWith(first *jaus.Stream, keyFn KeyFunc, tp TimeProvider) (*DataSet, error) {
	h, err := declaredHeader(first)
	if err != nil {
		return nil, err
	}

	seq := int(h.SequenceNumber)
	d := &DataSet{
		key:       keyFn(h, first),
		fragments: []fragment{{seq: seq, header: h, stream: first}},
		missing:   make(map[int]struct{}),
		base:      seq,
		max:       seq,
		tp:        tp,
		updated:   tp.Now(),
	}

	if h.DataFlag == jaus.DataSingle {
		d.haveFirst, d.haveLast = true, true
		d.firstSeq, d.lastSeq = seq, seq
	} else {
		d.trackFlags(h, seq)
	}
	d.updateComplete()
	return d, nil
}

// Add inserts a fragment. It fails with ErrRejected (possibly wrapping a more
// specific error) when the set is complete, the command code or source does
// not match, the fragment is oversized, or the sequence number is already held.
func (d *DataSet) Add(s *jaus.Stream) error {
	if d.complete {
		return fmt.Errorf("%w: %w", ErrRejected, ErrSetComplete)
	}

	h, err := declaredHeader(s)
	if err != nil {
		return err
	}
	if h.CommandCode != d.key.CommandCode || h.Source != d.key.Source {
		return fmt.Errorf("%w: fragment %s/0x%04X does not match set %s",
			ErrRejected, h.Source, h.CommandCode, d.key)
	}
	if h.DataFlag == jaus.DataSingle {
		return fmt.Errorf("%w: single-packet message offered as fragment", ErrRejected)
	}

	seq := int(h.SequenceNumber)
	if d.has(seq) {
		return fmt.Errorf("%w: %w: sequence %d", ErrRejected, ErrDuplicateFragment, seq)
	}

	f := fragment{seq: seq, header: h, stream: s}
	switch {
	case seq == d.max+1:
		d.fragments = append(d.fragments, f)
		d.max = seq
	case seq > d.max+1:
		for gap := d.max + 1; gap < seq; gap++ {
			d.missing[gap] = struct{}{}
		}
		d.fragments = append(d.fragments, f)
		d.max = seq
	default:
		d.insert(f)
		if seq < d.base {
			for gap := seq + 1; gap < d.base; gap++ {
				d.missing[gap] = struct{}{}
			}
			d.base = seq
		} else {
			delete(d.missing, seq)
		}
	}

	hadFirst := d.haveFirst
	d.trackFlags(h, seq)
	if !hadFirst && d.haveFirst {
		d.recomputeMissing()
	}

	d.updateComplete()
	d.updated = d.tp.Now()
	return nil
}

// Merge concatenates the fragment payloads in sequence order under the first
// fragment's header. It is only valid once the set is complete.
func (d *DataSet) Merge() (*jaus.Stream, error) {
	if !d.complete {
		return nil, ErrIncomplete
	}

	declared, actual := 0, 0
	for i, f := range d.fragments {
		if i > 0 && f.seq != d.fragments[i-1].seq+1 {
			return nil, fmt.Errorf("%w: sequence %d follows %d", ErrDiscontinuity, f.seq, d.fragments[i-1].seq)
		}
		declared += f.header.DataSize
		actual += f.stream.PayloadSize()
	}
	if declared != actual {
		return nil, fmt.Errorf("%w: fragments declare %d bytes, carry %d", ErrDiscontinuity, declared, actual)
	}
	if actual > limits.MaxMessageSize {
		return nil, fmt.Errorf("%w: merged size %d exceeds limit %d", limits.ErrMessageTooLarge, actual, limits.MaxMessageSize)
	}

	payload := make([]byte, 0, actual)
	for _, f := range d.fragments {
		payload = append(payload, f.stream.Payload()...)
	}

	h := d.fragments[0].header
	h.DataFlag = jaus.DataSingle
	return jaus.NewStream(h, payload)
}

// ChangeDestination rewrites the destination of every buffered fragment in
// place, for relaying a message without re-fragmenting it.
func (d *DataSet) ChangeDestination(dst jaus.Address) error {
	for i := range d.fragments {
		if err := d.fragments[i].stream.SetDestination(dst); err != nil {
			return err
		}
		d.fragments[i].header.Destination = dst
	}
	return nil
}

// Fragments returns the buffered fragments in sequence order.
func (d *DataSet) Fragments() []*jaus.Stream {
	out := make([]*jaus.Stream, len(d.fragments))
	for i, f := range d.fragments {
		out[i] = f.stream
	}
	return out
}

// Key returns the set's reassembly key.
func (d *DataSet) Key() Key { return d.key }

// Complete reports whether first and last fragments are present with no gaps.
func (d *DataSet) Complete() bool { return d.complete }

// Len returns the number of buffered fragments.
func (d *DataSet) Len() int { return len(d.fragments) }

// BaseSequence returns the lowest sequence number in the valid range.
func (d *DataSet) BaseSequence() uint16 { return uint16(d.base) }

// MaxSequence returns the highest sequence number seen.
func (d *DataSet) MaxSequence() uint16 { return uint16(d.max) }

// LastUpdate returns the time of the last successful Add.
func (d *DataSet) LastUpdate() time.Time { return d.updated }

// Expired reports whether the set has been idle longer than timeout.
func (d *DataSet) Expired(timeout time.Duration) bool {
	return d.tp.Since(d.updated) > timeout
}

// Missing returns the missing sequence numbers in ascending order.
func (d *DataSet) Missing() []uint16 {
	out := make([]uint16, 0, len(d.missing))
	for seq := range d.missing {
		out = append(out, uint16(seq))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *DataSet) has(seq int) bool {
	i := d.search(seq)
	return i < len(d.fragments) && d.fragments[i].seq == seq
}

func (d *DataSet) search(seq int) int {
	return sort.Search(len(d.fragments), func(i int) bool { return d.fragments[i].seq >= seq })
}

func (d *DataSet) insert(f fragment) {
	i := d.search(f.seq)
	d.fragments = append(d.fragments, fragment{})
	copy(d.fragments[i+1:], d.fragments[i:])
	d.fragments[i] = f
}

func (d *DataSet) trackFlags(h jaus.Header, seq int) {
	switch h.DataFlag {
	case jaus.DataFirst:
		d.haveFirst = true
		d.firstSeq = seq
	case jaus.DataLast:
		d.haveLast = true
		d.lastSeq = seq
	case jaus.DataRetransmit:
		// A short retransmitted fragment at the head of the run can only be the tail.
		if h.DataSize < limits.MaxDataSize && seq >= d.max {
			d.haveLast = true
			d.lastSeq = seq
		}
	}
}

// recomputeMissing rebuilds the missing set once the first fragment defines
// where the valid range starts. Fragments numbered below it are discarded.
func (d *DataSet) recomputeMissing() {
	kept := d.fragments[:0]
	for _, f := range d.fragments {
		if f.seq >= d.firstSeq {
			kept = append(kept, f)
		}
	}
	d.fragments = kept
	d.base = d.firstSeq

	upper := d.max
	if d.haveLast && d.lastSeq < upper {
		upper = d.lastSeq
	}

	d.missing = make(map[int]struct{})
	next := 0
	for seq := d.base; seq <= upper; seq++ {
		for next < len(d.fragments) && d.fragments[next].seq < seq {
			next++
		}
		if next >= len(d.fragments) || d.fragments[next].seq != seq {
			d.missing[seq] = struct{}{}
		}
	}
}

func (d *DataSet) updateComplete() {
	d.complete = d.haveFirst && d.haveLast && len(d.missing) == 0
}

// declaredHeader parses the header exactly as it appears on the wire and
// enforces the single-packet bound.
func declaredHeader(s *jaus.Stream) (jaus.Header, error) {
	if s == nil {
		return jaus.Header{}, fmt.Errorf("%w: nil fragment", ErrRejected)
	}
	if err := limits.ValidatePacket(s.Bytes()); err != nil {
		return jaus.Header{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	h, err := jaus.ParseHeader(s.Bytes())
	if err != nil {
		return jaus.Header{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return h, nil
}
