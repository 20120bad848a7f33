package sensor

import (
	"encoding/json"
	"strings"
)

// ChannelSet is a small bit set of channels.
type ChannelSet uint8

func NewChannelSet(chs ...Channel) ChannelSet {
	var s ChannelSet
	for _, c := range chs {
		s = s.With(c)
	}
	return s
}

func (s ChannelSet) With(c Channel) ChannelSet {
	if !c.Valid() {
		return s
	}
	return s | 1<<uint(c)
}

func (s ChannelSet) Has(c Channel) bool {
	return c.Valid() && s&(1<<uint(c)) != 0
}

func (s ChannelSet) Empty() bool { return s == 0 }

func (s ChannelSet) Len() int {
	n := 0
	for _, c := range Channels {
		if s.Has(c) {
			n++
		}
	}
	return n
}

// Slice returns the members in priority order.
func (s ChannelSet) Slice() []Channel {
	out := make([]Channel, 0, NumChannels)
	for _, c := range Channels {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s ChannelSet) String() string {
	names := make([]string, 0, NumChannels)
	for _, c := range s.Slice() {
		names = append(names, c.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

func (s ChannelSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, NumChannels)
	for _, c := range s.Slice() {
		names = append(names, c.String())
	}
	return json.Marshal(names)
}
