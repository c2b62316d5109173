package service

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"thermocycler/internal/device"
	"thermocycler/internal/models"
)

func TestBoardService_LegacyCodes(t *testing.T) {
	sender, events := &captureSender{}, &memEventRepo{}
	svc := NewBoardService(sender, events, false, nil)
	ctx := context.Background()

	steps := []func() error{
		func() error { return svc.SetBacklight(ctx, true) },
		func() error { return svc.SetBacklight(ctx, false) },
		func() error { return svc.SetMagnet(ctx, true) },
		func() error { return svc.SetMagnet(ctx, false) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if got, want := sender.sent(), []string{"7", "8", "5", "6"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sent = %v, want %v", got, want)
	}
	if n := len(events.ofType(models.EventBoard)); n != 4 {
		t.Fatalf("BOARD events = %d", n)
	}
}

func TestBoardService_FramesToggleOnlyOnChange(t *testing.T) {
	sender := &captureSender{}
	svc := NewBoardService(sender, &memEventRepo{}, true, nil)
	ctx := context.Background()

	_ = svc.SetBacklight(ctx, true)
	_ = svc.SetBacklight(ctx, true)
	_ = svc.SetMagnet(ctx, true)
	_ = svc.SetBacklight(ctx, false)

	if got, want := sender.sent(), []string{"<B,0,1>", "<B,1,0>", "<B,0,1>"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sent = %v, want %v", got, want)
	}
	if st := svc.State(); st.Backlight || !st.Magnet {
		t.Fatalf("state = %+v", st)
	}
}

func TestBoardService_SendFailureKeepsState(t *testing.T) {
	sender := &captureSender{err: errors.New("closed")}
	events := &memEventRepo{}
	svc := NewBoardService(sender, events, true, nil)

	if err := svc.SetMagnet(context.Background(), true); err == nil {
		t.Fatal("expected error")
	}
	if svc.State().Magnet {
		t.Fatal("state changed although the frame was not sent")
	}
	if len(events.events) != 0 {
		t.Fatal("event recorded for failed command")
	}
}

func TestBoardService_HeaterProgram(t *testing.T) {
	sender := &captureSender{}
	svc := NewBoardService(sender, &memEventRepo{}, true, nil)
	ctx := context.Background()

	f := device.HeaterFrame{Heater: 1, Cycles: 32, DenatureTime: 15, DenatureTemp: 90, AnnealTime: 20, AnnealTemp: 50, ExtendTime: 60, ExtendTemp: 72}
	if err := svc.RunHeaterProgram(ctx, f); err != nil {
		t.Fatal(err)
	}
	if err := svc.StopHeaterProgram(ctx, 1); err != nil {
		t.Fatal(err)
	}
	want := []string{"<H,1,32,15,90,20,50,60,72>", "<H,1,0,0,0,0,0,0,0>"}
	if got := sender.sent(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sent = %v, want %v", got, want)
	}
}

func TestBoardService_HeaterProgramValidation(t *testing.T) {
	svc := NewBoardService(&captureSender{}, &memEventRepo{}, true, nil)
	ctx := context.Background()
	if err := svc.RunHeaterProgram(ctx, device.HeaterFrame{Heater: 3}); !errors.Is(err, ErrInvalidHeater) {
		t.Fatalf("err = %v", err)
	}
	if err := svc.RunHeaterProgram(ctx, device.HeaterFrame{Heater: 2, Cycles: -1}); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("err = %v", err)
	}
	if err := svc.StopHeaterProgram(ctx, 0); !errors.Is(err, ErrInvalidHeater) {
		t.Fatalf("err = %v", err)
	}
}
