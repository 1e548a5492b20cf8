package wire

import (
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// NewEnvelopeID returns a fresh envelope id. Envelopes published by this
// package's users always carry one, which makes their votes identifiable.
func NewEnvelopeID() string {
	return uuid.NewString()
}

// VoteIdentity derives the dedup key of the vote at position index inside an
// envelope.
//
// The protocol has no per-vote id. Envelopes with a UUID id are keyed by that
// id. Older peers send a constant id ("uniqueId"), so their votes are keyed by
// a fingerprint of the payload and the network timestamp instead; two such
// envelopes with identical bytes and timestamp collapse into one.
func VoteIdentity(envelopeID string, payload []byte, timestamp int64, index int) string {
	if id, err := uuid.Parse(envelopeID); err == nil {
		return "msg:" + id.String() + "#" + strconv.Itoa(index)
	}

	d := xxhash.New()
	_, _ = d.Write(payload)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	_, _ = d.Write(ts[:])
	return "fp:" + strconv.FormatUint(d.Sum64(), 16) + "#" + strconv.Itoa(index)
}
