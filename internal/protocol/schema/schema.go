package schema

import (
	"fmt"
	"sort"

	logs "github.com/danmuck/blockgate/internal/logging"
	"github.com/danmuck/blockgate/internal/protocol"
)

// Direction is who sends a packet.
type Direction uint8

const (
	Clientbound Direction = iota + 1
	Serverbound
)

func (d Direction) String() string {
	switch d {
	case Clientbound:
		return "clientbound"
	case Serverbound:
		return "serverbound"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// State is the connection protocol state a packet belongs to.
type State uint8

const (
	Handshaking State = iota
	Status
	Login
	Play
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Status:
		return "status"
	case Login:
		return "login"
	case Play:
		return "play"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Packet is a typed packet value. FieldValues returns values in declared
// order; SetFieldValues is only used while building a decoded packet.
type Packet interface {
	PacketName() string
	FieldValues() []any
	SetFieldValues(values []any) error
}

// FieldSpec declares one field. Declaration order is wire order.
type FieldSpec struct {
	Name string
	Kind protocol.Kind
}

// Entry binds a packet type to its wire identity and field encodings.
type Entry struct {
	Name      string
	Direction Direction
	State     State
	ID        uint32
	Fields    []FieldSpec
	New       func() Packet
}

type key struct {
	dir   Direction
	state State
	id    uint32
}

type ValidationError struct {
	Packet string
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: packet=%s: %s", e.Packet, e.Reason)
	}
	return fmt.Sprintf("schema: packet=%s field=%s: %s", e.Packet, e.Field, e.Reason)
}

// Registry is the static packet table. It is immutable after New and safe
// for concurrent lookups.
type Registry struct {
	byName map[string]*Entry
	byKey  map[key]*Entry
}

// New validates entries and builds a registry. Any registration gap or
// conflict is reported here so it fails at startup, not per packet.
func New(entries ...Entry) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]*Entry, len(entries)),
		byKey:  make(map[key]*Entry, len(entries)),
	}
	for i := range entries {
		e := entries[i]
		if err := validateEntry(e); err != nil {
			logs.Errf("schema.New rejected packet=%q err=%v", e.Name, err)
			return nil, err
		}
		if _, exists := r.byName[e.Name]; exists {
			return nil, ValidationError{Packet: e.Name, Reason: "duplicate packet name"}
		}
		k := key{dir: e.Direction, state: e.State, id: e.ID}
		if other, exists := r.byKey[k]; exists {
			return nil, ValidationError{
				Packet: e.Name,
				Reason: fmt.Sprintf("id 0x%02x already used by %s in %s/%s", e.ID, other.Name, e.Direction, e.State),
			}
		}
		e.Fields = append([]FieldSpec(nil), e.Fields...)
		r.byName[e.Name] = &e
		r.byKey[k] = &e
	}
	logs.Debugf("schema.New ok packets=%d", len(r.byName))
	return r, nil
}

// MustNew is New for static tables declared at package level.
func MustNew(entries ...Entry) *Registry {
	r, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return r
}

func validateEntry(e Entry) error {
	if e.Name == "" {
		return ValidationError{Packet: "<unnamed>", Reason: "missing name"}
	}
	if e.Direction != Clientbound && e.Direction != Serverbound {
		return ValidationError{Packet: e.Name, Reason: "invalid direction"}
	}
	if e.State > Play {
		return ValidationError{Packet: e.Name, Reason: "invalid state"}
	}
	if e.New == nil {
		return ValidationError{Packet: e.Name, Reason: "missing factory"}
	}
	seen := make(map[string]struct{}, len(e.Fields))
	for i, f := range e.Fields {
		if f.Name == "" {
			return ValidationError{Packet: e.Name, Field: fmt.Sprintf("#%d", i), Reason: "missing field name"}
		}
		if _, dup := seen[f.Name]; dup {
			return ValidationError{Packet: e.Name, Field: f.Name, Reason: "duplicate field name"}
		}
		seen[f.Name] = struct{}{}
		if !f.Kind.Valid() {
			return ValidationError{Packet: e.Name, Field: f.Name, Reason: "unknown kind"}
		}
		if f.Kind.Trailing() && i != len(e.Fields)-1 {
			return ValidationError{Packet: e.Name, Field: f.Name, Reason: fmt.Sprintf("%s must be the last field", f.Kind)}
		}
	}
	if p := e.New(); p == nil || p.PacketName() != e.Name {
		return ValidationError{Packet: e.Name, Reason: "factory builds a different packet"}
	}
	return nil
}

// Lookup resolves a packet name registered for encoding.
func (r *Registry) Lookup(name string) (*Entry, error) {
	e, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownPacketType, name)
	}
	return e, nil
}

// LookupID resolves an inbound packet identity.
func (r *Registry) LookupID(dir Direction, state State, id uint32) (*Entry, error) {
	e, ok := r.byKey[key{dir: dir, state: state, id: id}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s id=0x%02x", protocol.ErrUnknownPacketType, dir, state, id)
	}
	return e, nil
}

func (r *Registry) Len() int {
	return len(r.byName)
}

// Entries lists registrations ordered by direction, state, then id.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.byName))
	for _, e := range r.byName {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		if a.State != b.State {
			return a.State < b.State
		}
		return a.ID < b.ID
	})
	return out
}
