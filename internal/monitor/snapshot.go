package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmagro/querywatch/internal/query"
)

// State is the serializable, transport-facing view of a Query after a
// scan: every field from §3 except the live compiled matcher.
type State struct {
	UID             string       `json:"uid"`
	Alias           string       `json:"alias"`
	URL             string       `json:"url"`
	TargetURL       string       `json:"target_url"`
	Sequence        string       `json:"sequence"`
	Mode            string       `json:"mode"`
	MinMatches      int          `json:"min_matches"`
	Interval        int          `json:"interval"`
	Cooldown        int          `json:"cooldown"`
	Randomize       int          `json:"randomize"`
	ETARaw          string       `json:"eta"`
	CyclesLimit     int          `json:"cycles_limit"`
	Cycles          int          `json:"cycles"`
	IsRecurring     bool         `json:"is_recurring"`
	LastRun         time.Time    `json:"last_run"`
	LastMatchAt     time.Time    `json:"last_match_datetime"`
	Found           bool         `json:"found"`
	Status          query.Status `json:"status"`
	IsNew           bool         `json:"is_new"`
	CookiesFilename string       `json:"cookies_filename"`
	AlertSound      string       `json:"alert_sound"`
}

func stateOf(q *query.Query) State {
	return State{
		UID:             q.UID,
		Alias:           q.Alias,
		URL:             q.URL,
		TargetURL:       q.TargetURL,
		Sequence:        q.Sequence,
		Mode:            string(q.Mode),
		MinMatches:      q.MinMatches,
		Interval:        q.Interval,
		Cooldown:        q.Cooldown,
		Randomize:       q.Randomize,
		ETARaw:          q.ETA.Raw,
		CyclesLimit:     q.CyclesLimit,
		Cycles:          q.Cycles,
		IsRecurring:     q.IsRecurring,
		LastRun:         q.LastRun,
		LastMatchAt:     q.LastMatchAt,
		Found:           q.Found,
		Status:          q.Status,
		IsNew:           q.IsNew,
		CookiesFilename: q.CookiesFilename,
		AlertSound:      q.AlertSound,
	}
}

// Snapshot is an insertion-order-preserving uid -> State view, the return
// value of Scan and of get_all_queries/get_dashboard. Go's encoding/json
// does not preserve map key order, so a naive map[string]State would
// silently violate spec.md §4.2's ordering guarantee; Snapshot carries its
// own order slice and implements MarshalJSON to walk it explicitly.
type Snapshot struct {
	order  []string
	states map[string]State
}

// newSnapshot builds a Snapshot from an ordered uid list and a lookup map.
func newSnapshot(order []string, states map[string]State) Snapshot {
	return Snapshot{order: append([]string(nil), order...), states: states}
}

// Get returns the state for uid, if present.
func (s Snapshot) Get(uid string) (State, bool) {
	st, ok := s.states[uid]
	return st, ok
}

// Order returns the uids in insertion order.
func (s Snapshot) Order() []string {
	return append([]string(nil), s.order...)
}

// Len reports the number of queries in the snapshot.
func (s Snapshot) Len() int { return len(s.order) }

// MarshalJSON writes {uid: state, ...} preserving s.order, so that two
// Snapshots with the same content and order serialize byte-identically and
// a client reading the JSON sees queries in the order they were added.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, uid := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(uid)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valJSON, err := json.Marshal(s.states[uid])
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON is MarshalJSON's inverse: it walks the object's keys via
// json.Decoder's token stream (rather than decoding into a map, which would
// lose key order) so a Snapshot round-trips through JSON, including its
// insertion order, for a client reading a get_dashboard/get_all_queries
// response.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("monitor: snapshot: expected object, got %v", tok)
	}

	order := make([]string, 0)
	states := make(map[string]State)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		uid, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("monitor: snapshot: expected string key, got %v", keyTok)
		}
		var st State
		if err := dec.Decode(&st); err != nil {
			return err
		}
		order = append(order, uid)
		states[uid] = st
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	s.order = order
	s.states = states
	return nil
}
