package gradio

import (
	"encoding/json"
	"fmt"
)

// Config is the subset of a Gradio app description this package reads.
type Config struct {
	Version    string      `json:"version"`
	APIPrefix  string      `json:"api_prefix"`
	Components []Component `json:"components"`
}

// Component finds the first component whose label equals label.
func (c Config) Component(label string) (Component, bool) {
	for _, comp := range c.Components {
		if comp.Props.Label == label {
			return comp, true
		}
	}
	return Component{}, false
}

type Component struct {
	ID    int    `json:"id"`
	Type  string `json:"type"`
	Props Props  `json:"props"`
}

type Props struct {
	Label   string  `json:"label"`
	Choices Choices `json:"choices"`
}

// Choice is one selectable entry. Gradio 3 sends bare strings, newer
// versions send [label, value] pairs.
type Choice struct {
	Label string
	Value string
}

type Choices []Choice

// Values returns the submitted value of every choice, in order.
func (cs Choices) Values() []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Value)
	}
	return out
}

func (c *Choice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Label, c.Value = s, s
		return nil
	}

	var pair []any
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("unsupported choice %s", data)
	}
	if len(pair) == 0 {
		return fmt.Errorf("empty choice pair")
	}
	c.Label = fmt.Sprint(pair[0])
	c.Value = c.Label
	if len(pair) > 1 {
		c.Value = fmt.Sprint(pair[1])
	}
	return nil
}

// FileData is the payload Gradio returns for file and audio outputs.
type FileData struct {
	Path     string `json:"path"`
	URL      string `json:"url"`
	OrigName string `json:"orig_name"`
	MimeType string `json:"mime_type"`
}

// DecodeFile decodes an output element that carries a file. Older apps send
// the file URL as a bare string.
func DecodeFile(raw json.RawMessage) (FileData, error) {
	var fd FileData
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		fd.URL = s
		return fd, nil
	}
	if err := json.Unmarshal(raw, &fd); err != nil {
		return FileData{}, fmt.Errorf("decode file data: %w", err)
	}
	return fd, nil
}
