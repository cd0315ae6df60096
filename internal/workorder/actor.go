package workorder

import "strings"

// Capabilities checked by the lifecycle.
const (
	CapAssign = "workorders.assign"
	CapCancel = "workorders.cancel"
	CapAll    = "*"
)

// Actor is the caller of an operation. Identity is resolved outside the
// core and passed in explicitly.
type Actor struct {
	ID           string
	Capabilities []string
}

// Can reports whether the actor holds capability c.
func (a Actor) Can(c string) bool {
	for _, have := range a.Capabilities {
		if have == c || have == CapAll {
			return true
		}
	}
	return false
}

// ParseCapabilities splits a comma separated capability list.
func ParseCapabilities(s string) []string {
	var caps []string
	for _, part := range strings.Split(s, ",") {
		if c := strings.TrimSpace(part); c != "" {
			caps = append(caps, c)
		}
	}
	return caps
}

func requireActor(op string, id uint, a Actor) error {
	if strings.TrimSpace(a.ID) == "" {
		return &Error{Op: op, ID: id, Kind: KindForbidden, Msg: "actor is required"}
	}
	return nil
}

func requireCapability(op string, id uint, a Actor, c string) error {
	if err := requireActor(op, id, a); err != nil {
		return err
	}
	if !a.Can(c) {
		return &Error{Op: op, ID: id, Kind: KindForbidden, Msg: "missing capability " + c}
	}
	return nil
}
