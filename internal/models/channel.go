package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ChannelID names one physical sensor or set-point stream reported by the board.
type ChannelID uint8

const (
	Metal ChannelID = iota
	Front
	Back
	FrontSet
	BackSet
)

// Channels lists every channel in table order.
var Channels = [...]ChannelID{Metal, Front, Back, FrontSet, BackSet}

// Unknown is the sentinel a table cell holds until a real reading lands.
const Unknown = -1.0

func (c ChannelID) String() string {
	switch c {
	case Metal:
		return "METAL"
	case Front:
		return "FRONT"
	case Back:
		return "BACK"
	case FrontSet:
		return "FRONT_SET"
	case BackSet:
		return "BACK_SET"
	default:
		return fmt.Sprintf("CHANNEL(%d)", uint8(c))
	}
}

func (c ChannelID) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ChannelID) UnmarshalText(text []byte) error {
	id, err := ParseChannel(string(text))
	if err != nil {
		return err
	}
	*c = id
	return nil
}

// ParseChannel accepts the upper- or lower-case channel name.
func ParseChannel(s string) (ChannelID, error) {
	for _, c := range Channels {
		if strings.EqualFold(strings.TrimSpace(s), c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

// Reading is the latest value seen for one channel.
type Reading struct {
	Channel ChannelID `json:"channel"`
	Value   float64   `json:"value"`
	At      time.Time `json:"at"`
}

// Known reports whether the reading carries a real measurement.
func (r Reading) Known() bool {
	return r.Value != Unknown && !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0)
}
