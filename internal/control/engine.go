package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"thermocycler/internal/models"
	"thermocycler/internal/protocol"

	"go.uber.org/zap"
)

// Target selects which peltiers a start or stop applies to.
type Target string

const (
	TargetFront Target = "front"
	TargetBack  Target = "back"
	TargetBoth  Target = "both"
)

var ErrUnknownTarget = errors.New("control: unknown target")

func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetFront, TargetBack, TargetBoth:
		return t, nil
	}
	return "", fmt.Errorf("%w %q (want front, back or both)", ErrUnknownTarget, s)
}

// Channels lists the peltiers the target covers.
func (t Target) Channels() []models.ChannelID {
	switch t {
	case TargetFront:
		return []models.ChannelID{models.Front}
	case TargetBack:
		return []models.ChannelID{models.Back}
	case TargetBoth:
		return []models.ChannelID{models.Front, models.Back}
	}
	return nil
}

// Engine holds one independent Controller per peltier.
type Engine struct {
	mu          sync.Mutex // serialises Start
	controllers map[models.ChannelID]*Controller
	order       []models.ChannelID
	log         *zap.SugaredLogger
}

func NewEngine(log *zap.SugaredLogger, controllers ...*Controller) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	e := &Engine{controllers: make(map[models.ChannelID]*Controller), log: log}
	for _, c := range controllers {
		e.controllers[c.Channel()] = c
		e.order = append(e.order, c.Channel())
	}
	return e
}

// Controller returns the controller for ch, or nil.
func (e *Engine) Controller(ch models.ChannelID) *Controller { return e.controllers[ch] }

// OnTransition registers fn on every controller.
func (e *Engine) OnTransition(fn func(models.RunStatus)) {
	for _, ch := range e.order {
		e.controllers[ch].OnTransition(fn)
	}
}

// Start launches the same program on each controller the target covers. No
// controller is started if any of them is already running. The run ids
// returned are keyed by channel.
func (e *Engine) Start(ctx context.Context, target Target, program protocol.Program, runID func(models.ChannelID) string) (map[models.ChannelID]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	chs, err := e.resolve(target)
	if err != nil {
		return nil, err
	}
	for _, ch := range chs {
		if e.controllers[ch].Status().Phase == models.PhaseRunning {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, ch)
		}
	}
	ids := make(map[models.ChannelID]string, len(chs))
	for _, ch := range chs {
		id := runID(ch)
		if err := e.controllers[ch].Start(ctx, id, program); err != nil {
			return ids, fmt.Errorf("control: start %s: %w", ch, err)
		}
		ids[ch] = id
	}
	return ids, nil
}

// Stop stops the controllers the target covers.
func (e *Engine) Stop(target Target) error {
	chs, err := e.resolve(target)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, ch := range chs {
		c := e.controllers[ch]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Stop()
		}()
	}
	wg.Wait()
	return nil
}

// Fail marks every running controller FAILED. It is called when the
// telemetry link dies, since every loop shares it.
func (e *Engine) Fail(err error) {
	e.log.Errorw("engine_failed", "err", err)
	var wg sync.WaitGroup
	for _, ch := range e.order {
		c := e.controllers[ch]
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Fail(err)
		}()
	}
	wg.Wait()
}

// Shutdown stops every controller.
func (e *Engine) Shutdown() {
	for _, ch := range e.order {
		_ = e.controllers[ch].Stop()
	}
}

// Statuses returns each controller's state in channel order.
func (e *Engine) Statuses() []models.RunStatus {
	out := make([]models.RunStatus, 0, len(e.order))
	for _, ch := range e.order {
		out = append(out, e.controllers[ch].Status())
	}
	return out
}

func (e *Engine) resolve(target Target) ([]models.ChannelID, error) {
	chs := target.Channels()
	if chs == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownTarget, target)
	}
	for _, ch := range chs {
		if _, ok := e.controllers[ch]; !ok {
			return nil, fmt.Errorf("control: no controller for %s", ch)
		}
	}
	return chs, nil
}
