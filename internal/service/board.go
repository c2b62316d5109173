package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"thermocycler/internal/control"
	"thermocycler/internal/device"
	"thermocycler/internal/logger"
	"thermocycler/internal/models"
	"thermocycler/internal/repository"

	"go.uber.org/zap"
)

var (
	ErrInvalidHeater = errors.New("heater must be 1 (front) or 2 (back)")
	ErrInvalidFrame  = errors.New("cycles, times and temperatures must not be negative")
)

// BoardService drives the backlight, the magnet and on-device PCR programs.
// With frames enabled the outputs are toggled through <B,m,l> frames, so the
// service tracks their state; otherwise the legacy single-character codes
// set them directly.
type BoardService struct {
	sender    control.Sender
	eventRepo repository.EventRepo
	frames    bool
	log       *zap.SugaredLogger

	mu    sync.Mutex
	state BoardState
}

func NewBoardService(sender control.Sender, eventRepo repository.EventRepo, frames bool, log *logger.Logger) *BoardService {
	return &BoardService{sender: sender, eventRepo: eventRepo, frames: frames, log: log.Component("board")}
}

func (s *BoardService) State() BoardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *BoardService) SetBacklight(ctx context.Context, on bool) error {
	return s.set(ctx, "backlight", on, device.LegacyBacklight, func(b *BoardState) *bool { return &b.Backlight })
}

func (s *BoardService) SetMagnet(ctx context.Context, on bool) error {
	return s.set(ctx, "magnet", on, device.LegacyMagnet, func(b *BoardState) *bool { return &b.Magnet })
}

func (s *BoardService) set(ctx context.Context, name string, on bool, legacy device.CommandSet, field func(*BoardState) *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := field(&s.state)
	var token string
	if s.frames {
		if *cur == on {
			return nil
		}
		token = device.EncodeBoardFrame(name == "magnet", name == "backlight")
	} else {
		token = legacy.Token(on)
	}
	if err := s.sender.Send(token); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	*cur = on

	s.log.Infow("board_output", "output", name, "on", on)
	s.appendEvent(ctx, fmt.Sprintf("%s %s", name, onOff(on)), map[string]any{"output": name, "on": on, "token": token})
	return nil
}

// RunHeaterProgram hands a whole PCR program to the board firmware.
func (s *BoardService) RunHeaterProgram(ctx context.Context, f device.HeaterFrame) error {
	if f.Heater != 1 && f.Heater != 2 {
		return ErrInvalidHeater
	}
	if f.Cycles < 0 || f.DenatureTime < 0 || f.AnnealTime < 0 || f.ExtendTime < 0 {
		return ErrInvalidFrame
	}
	frame := device.EncodeHeaterFrame(f)
	if err := s.sender.Send(frame); err != nil {
		return fmt.Errorf("send heater frame: %w", err)
	}
	s.log.Infow("heater_program_sent", "heater", f.Heater, "cycles", f.Cycles, "total_s", f.TotalSeconds())
	s.appendEvent(ctx, fmt.Sprintf("on-device program on heater %d: %d cycles", f.Heater, f.Cycles),
		map[string]any{"frame": frame, "total_seconds": f.TotalSeconds()})
	return nil
}

// StopHeaterProgram sends the all-zero frame for heater.
func (s *BoardService) StopHeaterProgram(ctx context.Context, heater int) error {
	if heater != 1 && heater != 2 {
		return ErrInvalidHeater
	}
	frame := device.StopHeaterFrame(heater)
	if err := s.sender.Send(frame); err != nil {
		return fmt.Errorf("send stop frame: %w", err)
	}
	s.appendEvent(ctx, fmt.Sprintf("on-device program on heater %d stopped", heater), map[string]any{"frame": frame})
	return nil
}

func (s *BoardService) appendEvent(ctx context.Context, desc string, meta map[string]any) {
	err := s.eventRepo.Append(ctx, models.RunEvent{
		Type:        models.EventBoard,
		Description: desc,
		Metadata:    meta,
	})
	if err != nil {
		s.log.Errorw("event_append_failed", "type", models.EventBoard, "err", err)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
