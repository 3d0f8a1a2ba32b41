package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"paychat/internal/domain"
	"paychat/internal/render"

	"github.com/spf13/cobra"
)

func renderCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "render [file]",
		Short: "Render chat messages as payment cards",
		Long: `Reads chat messages as a JSON array or as JSON lines, from a file or from
stdin, and prints each one the way a chat client shows it. Messages without
payment details print their text; unreadable details print a fallback line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var in io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			msgs, err := splitMessages(data)
			if err != nil {
				return err
			}
			r := render.New(domain.LoadDisplayLocation(cfg.Render.TimeZone))
			return writeRendered(os.Stdout, r, msgs, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the rendered cards as JSON lines")
	return cmd
}

// splitMessages accepts a JSON array of messages or one message per line.
func splitMessages(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var msgs []json.RawMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, fmt.Errorf("decode message array: %w", err)
		}
		return msgs, nil
	}

	var msgs []json.RawMessage
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		msgs = append(msgs, json.RawMessage(append([]byte(nil), line...)))
	}
	return msgs, sc.Err()
}

type renderedLine struct {
	Index int          `json:"index"`
	Kind  string       `json:"kind"`
	Text  string       `json:"text,omitempty"`
	Card  *render.Card `json:"card,omitempty"`
	Error string       `json:"error,omitempty"`
}

func writeRendered(w io.Writer, r *render.Renderer, msgs []json.RawMessage, asJSON bool) error {
	enc := json.NewEncoder(w)
	for i, raw := range msgs {
		res := r.Render(raw)
		text := res.Text()
		if res.Kind == render.KindNone {
			var plain struct {
				Text string `json:"text"`
			}
			json.Unmarshal(raw, &plain)
			text = plain.Text
		}

		if asJSON {
			line := renderedLine{Index: i, Kind: res.Kind.String(), Text: text, Card: res.Card}
			if res.Err != nil {
				line.Error = res.Err.Error()
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
			continue
		}
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, text)
	}
	return nil
}
