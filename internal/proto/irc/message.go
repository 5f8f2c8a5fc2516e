// Package irc implements the tagged, line-oriented message grammar used by IRC-derived chat
// services:
//
//	[ '@' tags ' ' ] [ ':' prefix ' ' ] command [ ' ' middle ]* [ ' :' trailing ]
//
// Absent optional parts are represented by nil (Tags, Middle) or the empty string (Prefix,
// Trailing). ParseLine rejects an empty prefix or trailing and a tag without '=', so every
// parsed line serializes back to the same text.
package irc

import "strings"

// Tag is a single key=value pair from the tags section.
type Tag struct {
	Key   string
	Value string
}

// Tags keeps tags in wire order so that a parsed line serializes back to the same text.
type Tags []Tag

// Get returns the raw value of key.
func (t Tags) Get(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Value returns the unescaped value of key, or "" when missing.
func (t Tags) Value(key string) string {
	v, _ := t.Get(key)
	return UnescapeTagValue(v)
}

// Message is one parsed line.
type Message struct {
	Tags     Tags
	Prefix   string
	Command  string
	Middle   []string
	Trailing string
}

// Param returns the i-th middle parameter or "".
func (m Message) Param(i int) string {
	if i < 0 || i >= len(m.Middle) {
		return ""
	}
	return m.Middle[i]
}

// Nick returns the nickname part of a nick!user@host prefix.
func (m Message) Nick() string {
	if i := strings.IndexAny(m.Prefix, "!@"); i >= 0 {
		return m.Prefix[:i]
	}
	return m.Prefix
}

// Equal reports structural equality. A nil and an empty Tags/Middle are both "absent".
func (m Message) Equal(o Message) bool {
	if m.Prefix != o.Prefix || m.Command != o.Command || m.Trailing != o.Trailing {
		return false
	}
	if len(m.Tags) != len(o.Tags) || len(m.Middle) != len(o.Middle) {
		return false
	}
	for i := range m.Tags {
		if m.Tags[i] != o.Tags[i] {
			return false
		}
	}
	for i := range m.Middle {
		if m.Middle[i] != o.Middle[i] {
			return false
		}
	}
	return true
}

var tagUnescaper = strings.NewReplacer(`\:`, ";", `\s`, " ", `\\`, `\`, `\r`, "\r", `\n`, "\n")

// UnescapeTagValue decodes the IRCv3 escape sequences used in tag values.
func UnescapeTagValue(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	return tagUnescaper.Replace(v)
}
