package remote

import "encoding/json"

// Schedule is the remote representation of a rule's recurring window.
type Schedule struct {
	Mode           string `json:"mode"`
	TimeRangeStart string `json:"time_range_start,omitempty"`
	TimeRangeEnd   string `json:"time_range_end,omitempty"`
}

// Snapshot is the remote rule object. Only the fields this controller owns are
// typed; everything else the remote sends (destination filters, protocol
// filters, device scoping, ...) is preserved verbatim in raw and replayed on
// Replace, so a full-object mutation cannot strip a concurrent external edit
// to fields we do not manage.
type Snapshot struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Name          string   `json:"name"`
	Action        string   `json:"action"`
	Enabled       bool     `json:"enabled"`
	PriorityIndex int      `json:"index"`
	Schedule      Schedule `json:"schedule"`

	raw map[string]json.RawMessage
}

// ownedKeys are the top-level JSON keys this controller manages.
var ownedKeys = []string{"id", "type", "name", "action", "enabled", "index", "schedule"}

// UnmarshalJSON decodes the typed fields and stashes everything else in raw.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	type alias Snapshot
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range ownedKeys {
		delete(all, k)
	}

	*s = Snapshot(a)
	if len(all) > 0 {
		s.raw = all
	}
	return nil
}

// MarshalJSON emits the unowned fields first, then the typed fields on top.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.raw)+len(ownedKeys))
	for k, v := range s.raw {
		out[k] = v
	}

	put := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}
	if err := put("id", s.ID); err != nil {
		return nil, err
	}
	if err := put("type", s.Type); err != nil {
		return nil, err
	}
	if err := put("name", s.Name); err != nil {
		return nil, err
	}
	if err := put("action", s.Action); err != nil {
		return nil, err
	}
	if err := put("enabled", s.Enabled); err != nil {
		return nil, err
	}
	if err := put("index", s.PriorityIndex); err != nil {
		return nil, err
	}
	if err := put("schedule", s.Schedule); err != nil {
		return nil, err
	}

	return json.Marshal(out)
}

// Clone returns a deep copy, including the raw passthrough fields.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	if s.raw != nil {
		c.raw = make(map[string]json.RawMessage, len(s.raw))
		for k, v := range s.raw {
			c.raw[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// FieldDelta is a partial update for the batch endpoint. Keys use the remote
// field names ("enabled", "schedule", ...).
type FieldDelta map[string]any

// ListFilter narrows a List call.
type ListFilter struct {
	// NamePrefixes, when non-empty, keeps only rules whose name starts with
	// one of the prefixes. Filtering happens client-side; the remote list
	// endpoint returns the whole site.
	NamePrefixes []string
}
