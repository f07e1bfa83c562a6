package largedata

import (
	"fmt"
	"math"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/limits"
	"github.com/sirupsen/logrus"
)

// CreateFragments splits msg into single-packet fragments. Fragment i carries
// sequence number baseSeq+i. It fails with ErrFitsSinglePacket when the
// payload already fits one packet.
func CreateFragments(msg *jaus.Stream, baseSeq uint16) ([]*jaus.Stream, error) {
	h, err := msg.Header()
	if err != nil {
		return nil, fmt.Errorf("create fragments: %w", err)
	}

	payload := msg.Payload()
	if len(payload) <= limits.MaxDataSize {
		return nil, ErrFitsSinglePacket
	}

	count := limits.FragmentCount(len(payload))
	if int(baseSeq)+count-1 > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d fragments from sequence %d", ErrSequenceRange, count, baseSeq)
	}

	frags := make([]*jaus.Stream, 0, count)
	for i := 0; i < count; i++ {
		start := i * limits.MaxDataSize
		end := min(start+limits.MaxDataSize, len(payload))

		fh := h
		fh.SequenceNumber = baseSeq + uint16(i)
		switch i {
		case 0:
			fh.DataFlag = jaus.DataFirst
		case count - 1:
			fh.DataFlag = jaus.DataLast
		default:
			fh.DataFlag = jaus.DataNormal
		}

		f, err := jaus.NewStream(fh, payload[start:end])
		if err != nil {
			return nil, fmt.Errorf("create fragment %d: %w", i, err)
		}
		frags = append(frags, f)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "CreateFragments",
		"command_code": fmt.Sprintf("0x%04X", h.CommandCode),
		"payload_size": len(payload),
		"fragments":    count,
		"base_seq":     baseSeq,
	}).Debug("Split message into fragments")

	return frags, nil
}
