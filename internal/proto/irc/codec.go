package irc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed is returned by ParseLine for text that does not match the grammar.
	ErrMalformed = errors.New("irc: malformed message")
	// ErrMissingCommand is returned by Serialize when the command is blank.
	ErrMissingCommand = errors.New("irc: message has no command")
	// ErrInvalidParam is returned by Serialize when a part cannot be represented on the wire.
	ErrInvalidParam = errors.New("irc: invalid message part")
)

// Parse splits text into lines and parses each one. Malformed and blank lines are skipped.
// The result is nil when nothing could be parsed.
func Parse(text string) []Message {
	var out []Message
	for len(text) > 0 {
		line := text
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line, text = text[:i], text[i+1:]
		} else {
			text = ""
		}
		msg, err := ParseLine(line)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// ParseLine parses a single line. A trailing "\r\n" is stripped.
func ParseLine(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Message{}, ErrMalformed
	}

	var msg Message
	rest := line

	if rest[0] == '@' {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return Message{}, fmt.Errorf("%w: tags without command", ErrMalformed)
		}
		tags, err := parseTags(rest[1:sp])
		if err != nil {
			return Message{}, err
		}
		msg.Tags = tags
		rest = rest[sp+1:]
	}

	if strings.HasPrefix(rest, ":") {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return Message{}, fmt.Errorf("%w: prefix without command", ErrMalformed)
		}
		msg.Prefix = rest[1:sp]
		if msg.Prefix == "" {
			return Message{}, fmt.Errorf("%w: empty prefix", ErrMalformed)
		}
		rest = rest[sp+1:]
	}

	cmdEnd := strings.IndexByte(rest, ' ')
	if cmdEnd < 0 {
		cmdEnd = len(rest)
	}
	msg.Command = rest[:cmdEnd]
	if msg.Command == "" || strings.ContainsRune(msg.Command, ':') {
		return Message{}, fmt.Errorf("%w: bad command %q", ErrMalformed, msg.Command)
	}
	rest = rest[cmdEnd:]

	for rest != "" {
		if strings.HasPrefix(rest, " :") {
			msg.Trailing = rest[2:]
			if msg.Trailing == "" {
				return Message{}, fmt.Errorf("%w: empty trailing", ErrMalformed)
			}
			break
		}
		// rest always starts with a single separating space here.
		rest = rest[1:]
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			end = len(rest)
		}
		token := rest[:end]
		if token == "" {
			return Message{}, fmt.Errorf("%w: empty parameter", ErrMalformed)
		}
		msg.Middle = append(msg.Middle, token)
		rest = rest[end:]
	}

	return msg, nil
}

func parseTags(raw string) (Tags, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty tags", ErrMalformed)
	}
	var tags Tags
	for _, part := range strings.Split(raw, ";") {
		if part == "" {
			return nil, fmt.Errorf("%w: empty tag", ErrMalformed)
		}
		key, value, ok := strings.Cut(part, "=")
		if key == "" {
			return nil, fmt.Errorf("%w: tag without key", ErrMalformed)
		}
		if !ok {
			return nil, fmt.Errorf("%w: tag %q without value", ErrMalformed, key)
		}
		tags = append(tags, Tag{Key: key, Value: value})
	}
	return tags, nil
}

// Serialize renders m as a single line without the CRLF terminator.
func Serialize(m Message) (string, error) {
	if strings.TrimSpace(m.Command) == "" {
		return "", ErrMissingCommand
	}
	if strings.ContainsAny(m.Command, " :\r\n") {
		return "", fmt.Errorf("%w: command %q", ErrInvalidParam, m.Command)
	}

	var b strings.Builder

	if len(m.Tags) > 0 {
		b.WriteByte('@')
		for i, tag := range m.Tags {
			if tag.Key == "" || strings.ContainsAny(tag.Key, " ;=\r\n") || strings.ContainsAny(tag.Value, " ;\r\n") {
				return "", fmt.Errorf("%w: tag %q", ErrInvalidParam, tag.Key)
			}
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteString(tag.Key)
			b.WriteByte('=')
			b.WriteString(tag.Value)
		}
		b.WriteByte(' ')
	}

	if m.Prefix != "" {
		if strings.ContainsAny(m.Prefix, " \r\n") {
			return "", fmt.Errorf("%w: prefix %q", ErrInvalidParam, m.Prefix)
		}
		b.WriteByte(':')
		b.WriteString(m.Prefix)
		b.WriteByte(' ')
	}

	b.WriteString(m.Command)

	for _, p := range m.Middle {
		if p == "" || p[0] == ':' || strings.ContainsAny(p, " \r\n") {
			return "", fmt.Errorf("%w: parameter %q", ErrInvalidParam, p)
		}
		b.WriteByte(' ')
		b.WriteString(p)
	}

	if m.Trailing != "" {
		if strings.ContainsAny(m.Trailing, "\r\n") {
			return "", fmt.Errorf("%w: trailing contains a line break", ErrInvalidParam)
		}
		b.WriteString(" :")
		b.WriteString(m.Trailing)
	}

	return b.String(), nil
}

// Line is Serialize followed by the CRLF terminator expected on the wire.
func Line(m Message) ([]byte, error) {
	s, err := Serialize(m)
	if err != nil {
		return nil, err
	}
	return []byte(s + "\r\n"), nil
}
