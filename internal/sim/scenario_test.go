package sim

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestScenario_ParseAndDue(t *testing.T) {
	yaml := []byte(`
version: 1
events:
  - t: 0s
    raw: "$GPGGA,garbage"
  - t: 2s
    mode: "L"
  - t: 2s
    silence: 500ms
  - t: 5s
    drop: true
`)

	script, err := ParseScenarioScriptYAML(yaml)
	if err != nil {
		t.Fatalf("ParseScenarioScriptYAML: %v", err)
	}
	scn, err := NewScenario(script)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	if scn.Len() != 4 {
		t.Fatalf("len=%d want 4", scn.Len())
	}

	if got := scn.Due(-1, 0); len(got) != 1 || got[0].Raw == "" {
		t.Fatalf("due at 0=%v want raw event", got)
	}
	if got := scn.Due(0, 1900*time.Millisecond); len(got) != 0 {
		t.Fatalf("due (0,1.9s]=%v want none", got)
	}
	got := scn.Due(1900*time.Millisecond, 2*time.Second)
	if len(got) != 2 || got[0].Mode != "L" || got[1].Silence != 500*time.Millisecond {
		t.Fatalf("due (1.9s,2s]=%+v", got)
	}
	if got := scn.Due(2*time.Second, time.Minute); len(got) != 1 || !got[0].Drop {
		t.Fatalf("due (2s,1m]=%+v want drop", got)
	}
	if got := scn.Due(time.Minute, time.Minute); got != nil {
		t.Fatalf("empty window=%v", got)
	}

	var nilScn *Scenario
	if nilScn.Due(0, time.Hour) != nil || nilScn.Len() != 0 {
		t.Fatalf("nil scenario should be empty")
	}
}

func TestScenario_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"Version", "version: 2\n", "unsupported scenario version 2"},
		{"Unsorted", "events:\n  - t: 2s\n  - t: 1s\n", "events must be sorted by t (index 1)"},
		{"Negative", "events:\n  - t: -1s\n", "events[0].t must be >= 0"},
		{"BadMode", "events:\n  - t: 1s\n    mode: Z\n", `events[0].mode "Z" is not a control mode code`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			script, err := ParseScenarioScriptYAML([]byte(tc.yaml))
			if err != nil {
				t.Fatalf("ParseScenarioScriptYAML: %v", err)
			}
			_, err = NewScenario(script)
			if err == nil || err.Error() != tc.want {
				t.Fatalf("err=%v want %q", err, tc.want)
			}
		})
	}
}

func TestLoadScenarioScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	if err := os.WriteFile(path, []byte("events:\n  - t: 1s\n    drop: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	script, err := LoadScenarioScript(path)
	if err != nil {
		t.Fatalf("LoadScenarioScript: %v", err)
	}
	if len(script.Events) != 1 || !script.Events[0].Drop {
		t.Fatalf("script=%+v", script)
	}
	if _, err := LoadScenarioScript(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "missing.yaml") {
		t.Fatalf("err=%v", err)
	}
}
