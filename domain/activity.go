package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// ActivityType is the closed set of activity kinds the server processes.
// Anything else is rejected at parse time.
type ActivityType int

const (
	ActivityFollow ActivityType = iota
	ActivityAccept
	ActivityUndo
	ActivityAnnounce
	ActivityLike
	ActivityCreate
)

func ParseActivityType(s string) (ActivityType, bool) {
	switch s {
	case "Follow":
		return ActivityFollow, true
	case "Accept":
		return ActivityAccept, true
	case "Undo":
		return ActivityUndo, true
	case "Announce":
		return ActivityAnnounce, true
	case "Like":
		return ActivityLike, true
	case "Create":
		return ActivityCreate, true
	}
	return 0, false
}

func (t ActivityType) String() string {
	switch t {
	case ActivityFollow:
		return "Follow"
	case ActivityAccept:
		return "Accept"
	case ActivityUndo:
		return "Undo"
	case ActivityAnnounce:
		return "Announce"
	case ActivityLike:
		return "Like"
	case ActivityCreate:
		return "Create"
	}
	return "Unknown"
}

// ObjectRef is a reference that arrives on the wire either as a bare
// identifier string or as an embedded object carrying an "id" field.
type ObjectRef struct {
	Id  string
	Raw json.RawMessage // full representation, set only when embedded
}

func (r *ObjectRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		r.Id = s
		return nil
	}

	var obj struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("reference is neither a string nor an object: %w", err)
	}

	r.Id = obj.Id
	r.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (r ObjectRef) IsEmbedded() bool {
	return len(r.Raw) > 0
}

// proofList tolerates a single proof object as well as an array of them.
type proofList []json.RawMessage

func (p *proofList) UnmarshalJSON(b []byte) error {
	var many []json.RawMessage
	if err := json.Unmarshal(b, &many); err == nil {
		*p = many
		return nil
	}
	*p = []json.RawMessage{append(json.RawMessage(nil), b...)}
	return nil
}

// Activity is an inbound protocol message. Fields are interpreted
// defensively: remote servers disagree on whether actor/object are inlined.
type Activity struct {
	Id     string
	Type   ActivityType
	Actor  ObjectRef
	Object ObjectRef
	Proofs []json.RawMessage
	Raw    json.RawMessage
}

func ParseActivity(raw []byte) (*Activity, error) {
	var wire struct {
		Id     string    `json:"id"`
		Type   string    `json:"type"`
		Actor  ObjectRef `json:"actor"`
		Object ObjectRef `json:"object"`
		Proof  proofList `json:"proof"`
	}

	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse activity: %w", err)
	}

	activityType, ok := ParseActivityType(wire.Type)
	if !ok {
		return nil, fmt.Errorf("unsupported activity type: %q", wire.Type)
	}

	return &Activity{
		Id:     wire.Id,
		Type:   activityType,
		Actor:  wire.Actor,
		Object: wire.Object,
		Proofs: wire.Proof,
		Raw:    append(json.RawMessage(nil), raw...),
	}, nil
}

// InnerActivity parses the embedded object as an activity. Undo and
// Announce wrap one; everything else returns false.
func (a *Activity) InnerActivity() (*Activity, bool) {
	if !a.Object.IsEmbedded() {
		return nil, false
	}

	inner, err := ParseActivity(a.Object.Raw)
	if err != nil {
		return nil, false
	}
	return inner, true
}

// Origin returns the scheme+host part of an identifier URI, or "" when the
// URI does not parse into one.
func Origin(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}
