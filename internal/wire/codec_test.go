package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  PollMessage
	}{
		{
			name: "empty",
			msg:  PollMessage{},
		},
		{
			name: "announcement",
			msg: PollMessage{
				ID:       "poll-1",
				Question: "Which proposal next?",
				Answers:  []string{"A", "B", ""},
			},
		},
		{
			name: "vote",
			msg: PollMessage{
				ID:       NewEnvelopeID(),
				Question: "Vote on Post",
				Votes:    []Vote{{PostID: 1, Vote: 1}},
			},
		},
		{
			name: "extremes",
			msg: PollMessage{
				ID: "x",
				Votes: []Vote{
					{PostID: -2147483648, Vote: -1},
					{PostID: 2147483647, Vote: 1},
					{PostID: 0, Vote: 0},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			got, err := Decode(Encode(tt.msg))
			require.NoError(err)
			require.Equal(tt.msg, got)
		})
	}
}

func TestEncodeMatchesProtobufLayout(t *testing.T) {
	require := require.New(t)

	// Bytes produced by protobufjs for
	// {id: "uniqueId", question: "Vote on Post", answers: [], votes: [{postId: 3, vote: -1}]}
	want := []byte{
		0x0a, 0x08, 'u', 'n', 'i', 'q', 'u', 'e', 'I', 'd',
		0x12, 0x0c, 'V', 'o', 't', 'e', ' ', 'o', 'n', ' ', 'P', 'o', 's', 't',
		0x22, 0x0d,
		0x08, 0x03,
		0x10, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01,
	}
	got := Encode(PollMessage{
		ID:       "uniqueId",
		Question: "Vote on Post",
		Votes:    []Vote{{PostID: 3, Vote: -1}},
	})
	require.Equal(want, got)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	require := require.New(t)

	b := Encode(PollMessage{ID: "a", Votes: []Vote{{PostID: 7, Vote: 1}}})
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	got, err := Decode(b)
	require.NoError(err)
	require.Equal(PollMessage{ID: "a", Votes: []Vote{{PostID: 7, Vote: 1}}}, got)
}

func TestDecodeErrors(t *testing.T) {
	wrongType := protowire.AppendTag(nil, fieldID, protowire.VarintType)
	wrongType = protowire.AppendVarint(wrongType, 1)

	badVote := protowire.AppendTag(nil, fieldVotes, protowire.BytesType)
	inner := protowire.AppendTag(nil, fieldVoteValue, protowire.BytesType)
	inner = protowire.AppendString(inner, "up")
	badVote = protowire.AppendBytes(badVote, inner)

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "truncated length", input: []byte{0x0a, 0x05, 'a'}},
		{name: "truncated varint", input: []byte{0x22, 0x02, 0x08, 0xff}},
		{name: "field zero", input: []byte{0x00, 0x01}},
		{name: "wrong wire type", input: wrongType},
		{name: "vote wrong wire type", input: badVote},
		{name: "garbage", input: []byte{0xff, 0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			_, err := Decode(tt.input)
			require.ErrorIs(err, ErrMalformed)

			var decodeErr *DecodeError
			require.ErrorAs(err, &decodeErr)
		})
	}
}

func TestVoteIdentity(t *testing.T) {
	require := require.New(t)

	id := NewEnvelopeID()
	require.Equal("msg:"+id+"#0", VoteIdentity(id, []byte("ignored"), 5, 0))
	require.Equal(VoteIdentity(id, nil, 0, 2), VoteIdentity(id, []byte("other"), 9, 2))
	require.NotEqual(VoteIdentity(id, nil, 0, 0), VoteIdentity(id, nil, 0, 1))

	payload := Encode(PollMessage{ID: "uniqueId", Votes: []Vote{{PostID: 1, Vote: 1}}})
	a := VoteIdentity("uniqueId", payload, 100, 0)
	require.Equal(a, VoteIdentity("uniqueId", payload, 100, 0))
	require.NotEqual(a, VoteIdentity("uniqueId", payload, 101, 0))
	require.NotEqual(a, VoteIdentity("uniqueId", payload, 100, 1))
	require.Contains(a, "fp:")
}
