package protocol

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrNotReply is returned by ParseReply for frames that are not agent answers,
// such as the plain error strings the chat endpoint sends on failures.
var ErrNotReply = errors.New("frame is not a reply")

// Reply is the answer the chat endpoint sends for every accepted message.
type Reply struct {
	Answer       string
	ResponseDate time.Time
}

// dateLayouts are tried in order for a string response_date. Timestamps
// without a zone are taken as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// ParseReply decodes {"answer": "...", "response_date": <date>}, where the
// date is an ISO-8601 timestamp or unix seconds. The endpoint serializes the
// reply before handing it to a JSON sender, so a JSON string holding the
// object is accepted too. An unparseable date leaves ResponseDate zero.
func ParseReply(text string) (Reply, error) {
	v := &structpb.Value{}
	if err := protojson.Unmarshal([]byte(text), v); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrNotReply, err)
	}
	if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
		inner := &structpb.Value{}
		if err := protojson.Unmarshal([]byte(s.StringValue), inner); err != nil {
			return Reply{}, fmt.Errorf("%w: %q", ErrNotReply, s.StringValue)
		}
		v = inner
	}

	fields := v.GetStructValue().GetFields()
	answer, ok := fields["answer"].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return Reply{}, fmt.Errorf("%w: missing answer", ErrNotReply)
	}
	reply := Reply{Answer: answer.StringValue}
	switch date := fields["response_date"].GetKind().(type) {
	case *structpb.Value_NumberValue:
		sec, frac := math.Modf(date.NumberValue)
		reply.ResponseDate = time.Unix(int64(sec), int64(frac*1e9))
	case *structpb.Value_StringValue:
		reply.ResponseDate = parseDate(date.StringValue)
	}
	return reply, nil
}

func parseDate(s string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
