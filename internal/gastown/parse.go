package gastown

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zsprackett/gtdash/internal/runner"
)

// ParseError reports CLI output that did not have the expected shape.
type ParseError struct {
	Command string
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s output: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s output: %s", e.Command, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

var notInitializedMarkers = []string{
	"not in a gas town workspace",
	"not initialized",
	"no town found",
}

// rawAgent mirrors one agent entry of `gt status --json`.
type rawAgent struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Session   string `json:"session"`
	Role      string `json:"role"`
	Running   bool   `json:"running"`
	HasWork   bool   `json:"has_work"`
	HookBead  string `json:"hook_bead"`
	WorkTitle string `json:"work_title"`
	State     string `json:"state"`
}

type rawMQ struct {
	Pending  int    `json:"pending"`
	InFlight int    `json:"in_flight"`
	Blocked  int    `json:"blocked"`
	State    string `json:"state"`
	Health   string `json:"health"`
}

type rawRig struct {
	Name         string     `json:"name"`
	PolecatCount int        `json:"polecat_count"`
	CrewCount    int        `json:"crew_count"`
	HasWitness   bool       `json:"has_witness"`
	HasRefinery  bool       `json:"has_refinery"`
	Agents       []rawAgent `json:"agents"`
	MQ           *rawMQ     `json:"mq"`
}

type rawStatus struct {
	Name   string     `json:"name"`
	Agents []rawAgent `json:"agents"`
	Rigs   []rawRig   `json:"rigs"`
}

// ParseStatus turns the output of `gt status --json` into a StatusResult.
// runErr is the error the invocation returned, if any: a JSON body wins over
// a failing exit status, and a failure whose message says the workspace is
// not set up yields an uninitialized result rather than an error.
func ParseStatus(out []byte, runErr error) (*StatusResult, error) {
	body := bytes.TrimSpace(out)
	if len(body) > 0 {
		snap, err := decodeStatus(body)
		if err == nil {
			return &StatusResult{Initialized: true, Status: snap}, nil
		}
		if runErr == nil {
			return nil, err
		}
	}

	if runErr == nil {
		return nil, &ParseError{Command: "gt status", Reason: "empty output"}
	}
	var exitErr *runner.ExitError
	if errors.As(runErr, &exitErr) && isNotInitialized(exitErr.Stderr) {
		return &StatusResult{Initialized: false, Error: exitErr.Stderr}, nil
	}
	return nil, runErr
}

func decodeStatus(body []byte) (*Snapshot, error) {
	if body[0] != '{' {
		return nil, &ParseError{Command: "gt status", Reason: "expected a JSON object"}
	}
	var raw rawStatus
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ParseError{Command: "gt status", Reason: "invalid JSON", Err: err}
	}

	snap := &Snapshot{Initialized: true, Town: raw.Name}
	for i, a := range raw.Agents {
		agent, err := convertAgent(a, "")
		if err != nil {
			return nil, &ParseError{Command: "gt status", Reason: fmt.Sprintf("agents[%d]: %v", i, err)}
		}
		snap.Agents = append(snap.Agents, agent)
	}
	for i, r := range raw.Rigs {
		if r.Name == "" {
			return nil, &ParseError{Command: "gt status", Reason: fmt.Sprintf("rigs[%d]: missing name", i)}
		}
		rig := Rig{
			Name:        r.Name,
			Polecats:    r.PolecatCount,
			Crew:        r.CrewCount,
			HasWitness:  r.HasWitness,
			HasRefinery: r.HasRefinery,
		}
		if r.MQ != nil {
			rig.Queue = QueueSummary{
				Pending:  r.MQ.Pending,
				InFlight: r.MQ.InFlight,
				Blocked:  r.MQ.Blocked,
				Health:   r.MQ.Health,
				State:    r.MQ.State,
			}
		}
		snap.Rigs = append(snap.Rigs, rig)
		for j, a := range r.Agents {
			agent, err := convertAgent(a, r.Name)
			if err != nil {
				return nil, &ParseError{Command: "gt status", Reason: fmt.Sprintf("rigs[%d].agents[%d]: %v", i, j, err)}
			}
			snap.Agents = append(snap.Agents, agent)
		}
	}
	return snap, nil
}

func convertAgent(a rawAgent, rig string) (Agent, error) {
	name := a.Name
	if name == "" {
		name = strings.TrimSuffix(a.Address, "/")
	}
	if name == "" {
		return Agent{}, errors.New("missing name")
	}
	return Agent{
		Name:      name,
		Role:      a.Role,
		Rig:       rig,
		Session:   a.Session,
		Running:   a.Running,
		HasWork:   a.HasWork,
		WorkID:    a.HookBead,
		WorkTitle: a.WorkTitle,
		State:     a.State,
	}, nil
}

func isNotInitialized(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range notInitializedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ParseWorkList decodes `bd ready --json` / `bd blocked --json` output.
// Empty output and JSON null are treated as an empty list.
func ParseWorkList(command string, out []byte) ([]WorkItem, error) {
	body := bytes.TrimSpace(out)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return []WorkItem{}, nil
	}
	if body[0] != '[' {
		return nil, &ParseError{Command: command, Reason: "expected a JSON array"}
	}
	var items []WorkItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &ParseError{Command: command, Reason: "invalid JSON", Err: err}
	}
	for i, it := range items {
		if it.ID == "" {
			return nil, &ParseError{Command: command, Reason: fmt.Sprintf("[%d]: missing id", i)}
		}
	}
	return items, nil
}
