package device

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"thermocycler/internal/models"
)

var errEmptyToken = errors.New("device: empty command token")

// CommandSet holds the wire tokens that switch one relay.
type CommandSet struct {
	On  string `mapstructure:"on" json:"on"`
	Off string `mapstructure:"off" json:"off"`
}

func (c CommandSet) Validate() error {
	if c.On == "" || c.Off == "" {
		return errEmptyToken
	}
	if c.On == c.Off {
		return fmt.Errorf("device: on and off tokens are both %q", c.On)
	}
	return nil
}

// Token returns the token for the requested relay state.
func (c CommandSet) Token(on bool) string {
	if on {
		return c.On
	}
	return c.Off
}

// Legacy single-character relay codes understood by the TEC firmware.
var (
	LegacyFront     = CommandSet{On: "2", Off: "1"}
	LegacyBack      = CommandSet{On: "4", Off: "3"}
	LegacyMagnet    = CommandSet{On: "5", Off: "6"}
	LegacyBacklight = CommandSet{On: "7", Off: "8"}
)

// DefaultCommands returns the legacy relay codes for each peltier.
func DefaultCommands() map[models.ChannelID]CommandSet {
	return map[models.ChannelID]CommandSet{
		models.Front: LegacyFront,
		models.Back:  LegacyBack,
	}
}

// Command is one actuator instruction.
type Command struct {
	Channel models.ChannelID
	On      bool
}

func (c Command) String() string {
	if c.On {
		return "RELAY_ON(" + c.Channel.String() + ")"
	}
	return "RELAY_OFF(" + c.Channel.String() + ")"
}

const (
	frameStart = '<'
	frameEnd   = '>'
)

// HeaterFrame is an on-device PCR program for one heater: cycle count and
// time/temperature for denature, anneal and extension.
type HeaterFrame struct {
	Heater       int     `json:"heater" binding:"required,oneof=1 2"`
	Cycles       int     `json:"cycles" binding:"min=0"`
	DenatureTime float64 `json:"denature_time"`
	DenatureTemp float64 `json:"denature_temp"`
	AnnealTime   float64 `json:"anneal_time"`
	AnnealTemp   float64 `json:"anneal_temp"`
	ExtendTime   float64 `json:"extend_time"`
	ExtendTemp   float64 `json:"extend_temp"`
}

// TotalSeconds is how long the on-device program runs.
func (f HeaterFrame) TotalSeconds() float64 {
	return float64(f.Cycles) * (f.DenatureTime + f.AnnealTime + f.ExtendTime)
}

// EncodeHeaterFrame renders "<H,heater,cycles,dTime,dTemp,aTime,aTemp,eTime,eTemp>".
// Times and temperatures are rounded to one decimal.
func EncodeHeaterFrame(f HeaterFrame) string {
	fields := []string{
		"H",
		strconv.Itoa(f.Heater),
		strconv.Itoa(f.Cycles),
		tenth(f.DenatureTime), tenth(f.DenatureTemp),
		tenth(f.AnnealTime), tenth(f.AnnealTemp),
		tenth(f.ExtendTime), tenth(f.ExtendTemp),
	}
	return string(frameStart) + strings.Join(fields, ",") + string(frameEnd)
}

// StopHeaterFrame is the all-zero frame the firmware treats as "stop".
func StopHeaterFrame(heater int) string {
	return EncodeHeaterFrame(HeaterFrame{Heater: heater})
}

// EncodeBoardFrame renders "<B,magnet,led>"; a 1 toggles that output.
func EncodeBoardFrame(toggleMagnet, toggleLED bool) string {
	return fmt.Sprintf("%cB,%d,%d%c", frameStart, b2i(toggleMagnet), b2i(toggleLED), frameEnd)
}

func tenth(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
