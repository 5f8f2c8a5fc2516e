package chat

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Channel identifies a chat channel by an optional numeric id and a name. Backends keyed by
// id leave the name empty or informational; name-keyed backends leave the id absent. Both
// fields take part in equality, and Channel is comparable so it can key a map directly.
type Channel struct {
	id    int64
	hasID bool
	name  string
}

// NewChannel returns a channel identified by name only.
func NewChannel(name string) Channel {
	return Channel{name: name}
}

// NewChannelWithID returns a channel with a numeric id.
func NewChannelWithID(id int64, name string) Channel {
	return Channel{id: id, hasID: true, name: name}
}

// ParseChannel accepts "name", "id" or "id:name".
func ParseChannel(s string) (Channel, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Channel{}, ErrInvalidChannel
	}
	idPart, name, hasColon := strings.Cut(s, ":")
	id, err := strconv.ParseInt(idPart, 10, 64)
	switch {
	case err == nil:
		return NewChannelWithID(id, name), nil
	case hasColon:
		return Channel{}, fmt.Errorf("%w: bad id %q", ErrInvalidChannel, idPart)
	default:
		return NewChannel(s), nil
	}
}

// ID returns the numeric id and whether it is set.
func (c Channel) ID() (int64, bool) {
	return c.id, c.hasID
}

// Name returns the channel name.
func (c Channel) Name() string {
	return c.name
}

// IsZero reports whether the channel carries neither an id nor a name.
func (c Channel) IsZero() bool {
	return !c.hasID && c.name == ""
}

func (c Channel) String() string {
	id := ""
	if c.hasID {
		id = strconv.FormatInt(c.id, 10)
	}
	return fmt.Sprintf("{Id: %s, Name: %s}", id, c.name)
}

func compareChannels(a, b Channel) int {
	if n := cmp.Compare(a.name, b.name); n != 0 {
		return n
	}
	if a.hasID != b.hasID {
		if a.hasID {
			return 1
		}
		return -1
	}
	return cmp.Compare(a.id, b.id)
}

func sortedChannels(set map[Channel]struct{}) []Channel {
	out := make([]Channel, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	slices.SortFunc(out, compareChannels)
	return out
}
