package notify

import (
	"strings"

	"board-sync/domain"
)

var valueEscaper = strings.NewReplacer(";", `\;`, "=", `\=`)

// Encode renders ev in the wire format the board server pushes.
func Encode(ev domain.ChangeEvent) string {
	var b strings.Builder
	b.WriteString("type=")
	b.WriteString(ev.Type)
	b.WriteString(";resource=")
	b.WriteString(ev.Resource)
	b.WriteString(";id=")
	b.WriteString(ev.ID)
	b.WriteString(";key=")
	b.WriteString(ev.Key)
	b.WriteString(";value=")
	b.WriteString(valueEscaper.Replace(ev.Value))
	return b.String()
}
