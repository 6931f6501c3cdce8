package sim

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"surveyor/internal/nmea"
)

// ScenarioScript is a deterministic list of link faults and operator actions
// injected by the simulator, used to reproduce field incidents.
//
// YAML schema (v1):
//
//	version: 1
//	events:
//	  - t: 2s
//	    mode: "L"          # force control mode (operator override)
//	  - t: 3s
//	    raw: "$PSEAA,1,2*00" # write a line verbatim (bad checksum here)
//	  - t: 4s
//	    silence: 1500ms    # stop telemetry
//	  - t: 8s
//	    drop: true         # close the client connection
//
// Events must be sorted by t. Each event may combine several actions.
type ScenarioScript struct {
	Version int             `yaml:"version"`
	Events  []ScenarioEvent `yaml:"events"`
}

type ScenarioEvent struct {
	T       time.Duration `yaml:"t"`
	Mode    string        `yaml:"mode"`
	Raw     string        `yaml:"raw"`
	Silence time.Duration `yaml:"silence"`
	Drop    bool          `yaml:"drop"`
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	events []ScenarioEvent
}

func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	for i, ev := range script.Events {
		if ev.T < 0 {
			return nil, fmt.Errorf("events[%d].t must be >= 0", i)
		}
		if i > 0 && ev.T < script.Events[i-1].T {
			return nil, fmt.Errorf("events must be sorted by t (index %d)", i)
		}
		if ev.Mode != "" && nmea.ModeFromCode(ev.Mode) == nmea.ModeUnknown {
			return nil, fmt.Errorf("events[%d].mode %q is not a control mode code", i, ev.Mode)
		}
		if ev.Silence < 0 {
			return nil, fmt.Errorf("events[%d].silence must be >= 0", i)
		}
	}
	return &Scenario{events: append([]ScenarioEvent(nil), script.Events...)}, nil
}

// Due returns the events with from < t <= to.
func (s *Scenario) Due(from, to time.Duration) []ScenarioEvent {
	if s == nil || to <= from {
		return nil
	}
	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].T > from })
	j := sort.Search(len(s.events), func(i int) bool { return s.events[i].T > to })
	if i >= j {
		return nil
	}
	return s.events[i:j]
}

// Len returns the number of events.
func (s *Scenario) Len() int {
	if s == nil {
		return 0
	}
	return len(s.events)
}
