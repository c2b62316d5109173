package device

import (
	"testing"

	"thermocycler/internal/models"
)

func TestCommandSetValidate(t *testing.T) {
	cases := []struct {
		name    string
		set     CommandSet
		wantErr bool
	}{
		{"legacy front", LegacyFront, false},
		{"empty on", CommandSet{Off: "1"}, true},
		{"empty off", CommandSet{On: "2"}, true},
		{"same token", CommandSet{On: "x", Off: "x"}, true},
		{"words", CommandSet{On: "FRONT_ON", Off: "FRONT_OFF"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.set.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCommandSetToken(t *testing.T) {
	if got := LegacyBack.Token(true); got != "4" {
		t.Errorf("on token = %q, want 4", got)
	}
	if got := LegacyBack.Token(false); got != "3" {
		t.Errorf("off token = %q, want 3", got)
	}
}

func TestCommandString(t *testing.T) {
	if got := (Command{Channel: models.Front, On: true}).String(); got != "RELAY_ON(FRONT)" {
		t.Errorf("got %q", got)
	}
	if got := (Command{Channel: models.Back}).String(); got != "RELAY_OFF(BACK)" {
		t.Errorf("got %q", got)
	}
}

func TestEncodeHeaterFrame(t *testing.T) {
	f := HeaterFrame{
		Heater: 1, Cycles: 30,
		DenatureTime: 10, DenatureTemp: 95.04,
		AnnealTime: 20, AnnealTemp: 55.56,
		ExtendTime: 30.5, ExtendTemp: 72,
	}
	want := "<H,1,30,10,95,20,55.6,30.5,72>"
	if got := EncodeHeaterFrame(f); got != want {
		t.Fatalf("EncodeHeaterFrame() = %q, want %q", got, want)
	}
	if got := f.TotalSeconds(); got != 30*60.5 {
		t.Errorf("TotalSeconds() = %v", got)
	}
}

func TestStopHeaterFrame(t *testing.T) {
	if got := StopHeaterFrame(2); got != "<H,2,0,0,0,0,0,0,0>" {
		t.Fatalf("StopHeaterFrame() = %q", got)
	}
}

func TestEncodeBoardFrame(t *testing.T) {
	cases := []struct {
		mag, led bool
		want     string
	}{
		{false, false, "<B,0,0>"},
		{true, false, "<B,1,0>"},
		{false, true, "<B,0,1>"},
		{true, true, "<B,1,1>"},
	}
	for _, tc := range cases {
		if got := EncodeBoardFrame(tc.mag, tc.led); got != tc.want {
			t.Errorf("EncodeBoardFrame(%v, %v) = %q, want %q", tc.mag, tc.led, got, tc.want)
		}
	}
}
