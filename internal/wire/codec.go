// Package wire implements the binary envelope exchanged by forum peers on the
// poll content topic.
//
// The layout is the protobuf wire format of
//
//	message PollVote    { int32 postId = 1; int32 vote = 2; }
//	message PollMessage { string id = 1; string question = 2;
//	                      repeated string answers = 3;
//	                      repeated PollVote votes = 4; }
//
// Tag numbers and types are a cross-version contract. Any change to them must
// come with a new ContentTopic.
package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// ContentTopic names the logical channel carrying PollMessage envelopes.
const ContentTopic = "/wapoll/0"

const (
	fieldID       protowire.Number = 1
	fieldQuestion protowire.Number = 2
	fieldAnswers  protowire.Number = 3
	fieldVotes    protowire.Number = 4

	fieldVotePostID protowire.Number = 1
	fieldVoteValue  protowire.Number = 2
)

// Vote is a single vote delta carried inside a PollMessage.
type Vote struct {
	PostID int32 `json:"postId"`
	Vote   int32 `json:"vote"` // 1 for upvote, -1 for downvote
}

// PollMessage is the envelope broadcast on ContentTopic. An envelope without
// votes is a poll announcement.
type PollMessage struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
	Votes    []Vote   `json:"votes"`
}

// Encode serialises m. It never fails.
func Encode(m PollMessage) []byte {
	var b []byte
	if m.ID != "" {
		b = protowire.AppendTag(b, fieldID, protowire.BytesType)
		b = protowire.AppendString(b, m.ID)
	}
	if m.Question != "" {
		b = protowire.AppendTag(b, fieldQuestion, protowire.BytesType)
		b = protowire.AppendString(b, m.Question)
	}
	for _, answer := range m.Answers {
		b = protowire.AppendTag(b, fieldAnswers, protowire.BytesType)
		b = protowire.AppendString(b, answer)
	}
	for _, v := range m.Votes {
		b = protowire.AppendTag(b, fieldVotes, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeVote(v))
	}
	return b
}

func encodeVote(v Vote) []byte {
	var b []byte
	if v.PostID != 0 {
		b = protowire.AppendTag(b, fieldVotePostID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(v.PostID)))
	}
	if v.Vote != 0 {
		b = protowire.AppendTag(b, fieldVoteValue, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(v.Vote)))
	}
	return b
}

// Decode parses an envelope. Unknown fields are skipped. Any structural
// problem is reported as a *DecodeError.
func Decode(b []byte) (PollMessage, error) {
	var (
		m   PollMessage
		off int
	)
	for off < len(b) {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return PollMessage{}, newDecodeError("PollMessage", off, "tag", protowire.ParseError(n))
		}
		off += n

		switch num {
		case fieldID, fieldQuestion, fieldAnswers:
			if typ != protowire.BytesType {
				return PollMessage{}, wireTypeError("PollMessage", off, num, typ)
			}
			s, n := protowire.ConsumeString(b[off:])
			if n < 0 {
				return PollMessage{}, newDecodeError("PollMessage", off, fieldName(num), protowire.ParseError(n))
			}
			off += n
			switch num {
			case fieldID:
				m.ID = s
			case fieldQuestion:
				m.Question = s
			default:
				m.Answers = append(m.Answers, s)
			}
		case fieldVotes:
			if typ != protowire.BytesType {
				return PollMessage{}, wireTypeError("PollMessage", off, num, typ)
			}
			raw, n := protowire.ConsumeBytes(b[off:])
			if n < 0 {
				return PollMessage{}, newDecodeError("PollMessage", off, "votes", protowire.ParseError(n))
			}
			v, err := decodeVote(raw, off)
			if err != nil {
				return PollMessage{}, err
			}
			off += n
			m.Votes = append(m.Votes, v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b[off:])
			if n < 0 {
				return PollMessage{}, newDecodeError("PollMessage", off, "unknown field", protowire.ParseError(n))
			}
			off += n
		}
	}
	return m, nil
}

// decodeVote parses a nested PollVote. base is the offset of raw inside the
// enclosing envelope and only serves error reporting.
func decodeVote(raw []byte, base int) (Vote, error) {
	var (
		v   Vote
		off int
	)
	for off < len(raw) {
		num, typ, n := protowire.ConsumeTag(raw[off:])
		if n < 0 {
			return Vote{}, newDecodeError("PollVote", base+off, "tag", protowire.ParseError(n))
		}
		off += n

		switch num {
		case fieldVotePostID, fieldVoteValue:
			if typ != protowire.VarintType {
				return Vote{}, wireTypeError("PollVote", base+off, num, typ)
			}
			x, n := protowire.ConsumeVarint(raw[off:])
			if n < 0 {
				return Vote{}, newDecodeError("PollVote", base+off, "varint", protowire.ParseError(n))
			}
			off += n
			if num == fieldVotePostID {
				v.PostID = int32(x)
			} else {
				v.Vote = int32(x)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw[off:])
			if n < 0 {
				return Vote{}, newDecodeError("PollVote", base+off, "unknown field", protowire.ParseError(n))
			}
			off += n
		}
	}
	return v, nil
}

func fieldName(num protowire.Number) string {
	switch num {
	case fieldID:
		return "id"
	case fieldQuestion:
		return "question"
	case fieldAnswers:
		return "answers"
	case fieldVotes:
		return "votes"
	}
	return "field"
}
