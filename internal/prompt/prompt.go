// Package prompt renders the text sent to the model for one turn.
package prompt

import (
	"fmt"
	"strings"
	"time"
)

// Builder renders prompts stamped with the local time of a fixed zone.
type Builder struct {
	loc   *time.Location
	label string
	now   func() time.Time
}

// NewBuilder loads tz (an IANA name such as "America/Phoenix").
func NewBuilder(tz string) (*Builder, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return &Builder{loc: loc, label: cityLabel(tz), now: time.Now}, nil
}

// Build returns the full prompt:
//
//	Current Time (<city>): <YYYY-MM-DD HH:MM:SS ZONE>
//
//	<role>
//
//	Chat History:
//	<transcript lines>
//
//	User Message:
//	<message>
func (b *Builder) Build(role string, history []string, message string) string {
	ts := b.now().In(b.loc).Format("2006-01-02 15:04:05 MST")
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current Time (%s): %s\n\n", b.label, ts)
	sb.WriteString(role)
	sb.WriteString("\n\nChat History:\n")
	sb.WriteString(strings.Join(history, "\n"))
	sb.WriteString("\n\nUser Message:\n")
	sb.WriteString(message)
	return sb.String()
}

// cityLabel turns "America/Los_Angeles" into "Los Angeles".
func cityLabel(tz string) string {
	if i := strings.LastIndexByte(tz, '/'); i >= 0 {
		tz = tz[i+1:]
	}
	return strings.ReplaceAll(tz, "_", " ")
}
