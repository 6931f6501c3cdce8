package nmea

import (
	"strings"
	"testing"
)

func TestRouter_MergesInArrivalOrder(t *testing.T) {
	var r Router
	buf := Encode("PSEAD,L,10.0,0,0,") + Encode("PSEAD,W,20.0,30,0,")
	got := r.Feed([]byte(buf))
	if got[FieldControlMode] != "Waypoint" {
		t.Fatalf("mode=%v want Waypoint", got[FieldControlMode])
	}
	if got[FieldCommandedHeading] != 20.0 {
		t.Fatalf("heading=%v want 20", got[FieldCommandedHeading])
	}
	if st := r.Stats(); st.Parsed != 2 {
		t.Fatalf("parsed=%d want 2", st.Parsed)
	}
}

func TestRouter_MixedBuffer(t *testing.T) {
	var r Router
	buf := sampleGGA + "\r\n" + "$DEBUG,hello\r\n" + sampleAtt + "\r\n"
	got := r.Feed([]byte(buf))
	if _, ok := got[FieldLatitude]; !ok {
		t.Fatalf("missing latitude in %v", got)
	}
	if _, ok := got[FieldPitch]; !ok {
		t.Fatalf("missing pitch in %v", got)
	}
	st := r.Stats()
	if st.Lines != 3 || st.Unknown != 1 || st.Parsed != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestRouter_CarriesFragmentAcrossBuffers(t *testing.T) {
	var r Router
	line := sampleAtt + "\r\n"
	cut := 20

	got := r.Feed([]byte(line[:cut]))
	if len(got) != 0 {
		t.Fatalf("fragment should not be parsed alone, got %v", got)
	}
	if r.Pending() != cut {
		t.Fatalf("pending=%d want %d", r.Pending(), cut)
	}

	got = r.Feed([]byte(line[cut:]))
	if got[FieldHeading] != 222.6 {
		t.Fatalf("heading=%v want 222.6", got[FieldHeading])
	}
	if r.Pending() != 0 {
		t.Fatalf("pending=%d want 0", r.Pending())
	}
}

func TestRouter_DropsOversizedFragment(t *testing.T) {
	r := Router{MaxFragmentBytes: 16}
	r.Feed([]byte("$PSEAA," + strings.Repeat("1", 64)))
	if r.Pending() != 0 {
		t.Fatalf("pending=%d want 0", r.Pending())
	}
	if st := r.Stats(); st.Truncated != 1 {
		t.Fatalf("truncated=%d want 1", st.Truncated)
	}

	got := r.Feed([]byte(sampleAtt + "\n"))
	if got[FieldPitch] != -2.2 {
		t.Fatalf("pitch=%v want -2.2", got[FieldPitch])
	}
}

func TestRouter_ReportsParseErrors(t *testing.T) {
	var errs []error
	r := Router{OnError: func(err error) { errs = append(errs, err) }}
	bad := sampleAtt[:len(sampleAtt)-2] + "00\r\n"
	got := r.Feed([]byte(bad))
	if len(got) != 0 {
		t.Fatalf("got %v want empty", got)
	}
	if len(errs) != 1 {
		t.Fatalf("errors=%d want 1", len(errs))
	}
}

func TestRouter_EmptyBuffer(t *testing.T) {
	var r Router
	if got := r.Feed(nil); len(got) != 0 {
		t.Fatalf("got %v want empty", got)
	}
}

func TestRouter_OnLineSeesEveryLine(t *testing.T) {
	var lines []string
	r := Router{OnLine: func(l string) { lines = append(lines, l) }}
	r.Feed([]byte(sampleGGA + "\r\n\r\n$DEBUG,hello\r\n$PSEA"))
	r.Feed([]byte("D,L,10.0,0,0,\r\n"))
	want := []string{sampleGGA, "$DEBUG,hello", "$PSEAD,L,10.0,0,0,"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("lines=%q want %q", lines, want)
	}
}

func TestWaypointBody(t *testing.T) {
	cases := []struct {
		lat, lon float64
		n        int
		want     string
	}{
		{26.1, -81.1, 1, "OIWPL,2606.0000,N,08106.0000,W,1"},
		{-33.5, 151.25, 0, "OIWPL,3330.0000,S,15115.0000,E,0"},
		{41.9807356, -91.7906949, 2, "OIWPL,4158.8441,N,09147.4417,W,2"},
		{26.05, -81.0, 3, "OIWPL,2603.0000,N,08100.0000,W,3"},
	}
	for _, tc := range cases {
		if got := WaypointBody(tc.lat, tc.lon, tc.n); got != tc.want {
			t.Fatalf("WaypointBody(%v,%v,%d)=%q want %q", tc.lat, tc.lon, tc.n, got, tc.want)
		}
	}
}

func TestFormatLat_CarriesRoundedMinutes(t *testing.T) {
	// 59.999994 minutes rounds to 60.0000 and must carry into the degrees.
	got, hemi := FormatLat(10 + 59.999994/60)
	if got != "1100.0000" || hemi != "N" {
		t.Fatalf("got %q %q want 1100.0000 N", got, hemi)
	}
}

func TestWaypointBody_ParsesBack(t *testing.T) {
	body := WaypointBody(41.9807356, -91.7906949, 1)
	f := strings.Split(body, ",")
	lat, ok := parseLatLon(f[1], f[2])
	if !ok {
		t.Fatalf("lat did not parse: %q", body)
	}
	lon, ok := parseLatLon(f[3], f[4])
	if !ok {
		t.Fatalf("lon did not parse: %q", body)
	}
	if d := lat - 41.9807356; d > 1e-5 || d < -1e-5 {
		t.Fatalf("lat=%v", lat)
	}
	if d := lon + 91.7906949; d > 1e-5 || d < -1e-5 {
		t.Fatalf("lon=%v", lon)
	}
}

func TestParseWaypoint(t *testing.T) {
	s, err := ParseSentence(Encode(WaypointBody(25.7617, -80.1918, 3)))
	if err != nil {
		t.Fatalf("ParseSentence: %v", err)
	}
	lat, lon, ord, err := ParseWaypoint(s)
	if err != nil {
		t.Fatalf("ParseWaypoint: %v", err)
	}
	if ord != 3 || lat < 25.76169 || lat > 25.76171 || lon > -80.19179 || lon < -80.19181 {
		t.Fatalf("lat=%v lon=%v ord=%d", lat, lon, ord)
	}
	if _, _, _, err := ParseWaypoint(Sentence{Tag: "PSEAC", Fields: []string{"PSEAC"}}); err == nil {
		t.Fatalf("expected error for non-OIWPL sentence")
	}
}
