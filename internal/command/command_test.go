package command

import (
	"errors"
	"testing"
	"time"

	"surveyor/internal/nmea"
)

func TestCommand_Bodies(t *testing.T) {
	thr, _ := Thruster(-30, 15)
	hdg, _ := Heading(40, 270)
	begin, _ := BeginFileDownload(3)
	psear, _ := Throttle(20)

	cases := []struct {
		c    Command
		want string
	}{
		{Standby(), "PSEAC,L,0,0,0,"},
		{thr, "PSEAC,T,0,-30,15,"},
		{hdg, "PSEAC,C,270,40,,"},
		{StationKeep(), "PSEAC,R,,,,"},
		{WaypointMode(), "PSEAC,W,0,0,0,"},
		{GoToERP(), "PSEAC,H,0,0,0,"},
		{begin, "PSEAC,F,3,000,000,"},
		{EndFileDownload(), "PSEAC,F,000,000,000"},
		{psear, "PSEAR,0,000,20,0,000"},
	}
	for _, tc := range cases {
		got, err := tc.c.Body()
		if err != nil {
			t.Fatalf("%s: %v", tc.c.Kind, err)
		}
		if got != tc.want {
			t.Fatalf("%s body=%q want %q", tc.c.Kind, got, tc.want)
		}
	}
}

func TestCommand_SentenceFraming(t *testing.T) {
	got, err := Standby().Sentence()
	if err != nil {
		t.Fatalf("Sentence: %v", err)
	}
	if got != "$PSEAC,L,0,0,0,*14\r\n" {
		t.Fatalf("sentence=%q", got)
	}
}

func TestCommand_RangeValidation(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"thrust high", second(Thruster(101, 0))},
		{"thrust low", second(Thruster(-101, 0))},
		{"diff high", second(Thruster(0, 101))},
		{"heading 360", second(Heading(10, 360))},
		{"heading negative", second(Heading(10, -1))},
		{"heading thrust", second(Heading(200, 10))},
		{"lines zero", second(BeginFileDownload(0))},
		{"throttle", second(Throttle(101))},
	}
	for _, tc := range cases {
		var ve *ValidationError
		if !errors.As(tc.err, &ve) {
			t.Fatalf("%s: err=%v want *ValidationError", tc.name, tc.err)
		}
	}

	if _, err := Thruster(-100, 100); err != nil {
		t.Fatalf("boundary thruster rejected: %v", err)
	}
	if _, err := Heading(0, 359); err != nil {
		t.Fatalf("boundary heading rejected: %v", err)
	}
}

func TestCommand_SettleAndMode(t *testing.T) {
	thr, _ := Thruster(10, 0)
	if thr.Settle() != 50*time.Millisecond {
		t.Fatalf("thruster settle=%v", thr.Settle())
	}
	if EndFileDownload().Settle() != 100*time.Millisecond {
		t.Fatalf("file download settle=%v", EndFileDownload().Settle())
	}
	if Standby().Settle() != 0 {
		t.Fatalf("standby settle=%v", Standby().Settle())
	}
	if WaypointMode().Mode() != nmea.ModeWaypoint {
		t.Fatalf("mode=%v", WaypointMode().Mode())
	}
}

func TestCommand_UnknownKind(t *testing.T) {
	_, err := Command{}.Body()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err=%v want *ValidationError", err)
	}
}

func second(_ Command, err error) error { return err }
