// Package format renders catalog topics for the terminal.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nfrund/brokerlink/internal/topics"
)

// TopicDisplay represents a topic for display purposes
type TopicDisplay struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Topics      string `json:"topics"`
	Response    string `json:"response,omitempty"`
}

func display(def *topics.Definition) TopicDisplay {
	d := TopicDisplay{
		Name:        def.Name(),
		Description: def.Description(),
		Topics:      def.Encoded(),
	}
	if resp, ok := def.Response(); ok {
		d.Response = topics.Encode(resp)
	}
	return d
}

// TopicsTable writes defs as an aligned table.
func TopicsTable(w io.Writer, defs []*topics.Definition) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "NAME\tTOPICS\tRESPONSE\tDESCRIPTION")
	fmt.Fprintln(tw, "----\t------\t--------\t-----------")
	if len(defs) == 0 {
		fmt.Fprintln(tw, "No topics found")
	}
	for _, def := range defs {
		d := display(def)
		if d.Response == "" {
			d.Response = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Topics, d.Response, truncateString(d.Description, 50))
	}
	return tw.Flush()
}

// TopicsJSON writes defs as {"topics": [...], "count": n}.
func TopicsJSON(w io.Writer, defs []*topics.Definition) error {
	displays := make([]TopicDisplay, len(defs))
	for i, def := range defs {
		displays[i] = display(def)
	}

	output := struct {
		Topics []TopicDisplay `json:"topics"`
		Count  int            `json:"count"`
	}{
		Topics: displays,
		Count:  len(displays),
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// TopicDetails writes one definition as "json" or as labelled text.
func TopicDetails(w io.Writer, def *topics.Definition, format string) error {
	d := display(def)
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(d)
	case "text", "":
	default:
		return fmt.Errorf("unsupported output format %q, use 'text' or 'json'", format)
	}

	fmt.Fprintf(w, "Name:        %s\n", d.Name)
	fmt.Fprintf(w, "Description: %s\n", d.Description)
	fmt.Fprintf(w, "Topics:      %s\n", d.Topics)
	if d.Response != "" {
		fmt.Fprintf(w, "Response:    %s\n", d.Response)
	}
	return nil
}

// truncateString truncates a string to maxLen characters, adding "..." if truncated
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
