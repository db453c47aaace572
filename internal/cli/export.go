package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yubzen/phonepilot/internal/redact"
	"github.com/yubzen/phonepilot/internal/timeline"
)

type exportDocument struct {
	Version    int                `yaml:"version"`
	ExportedAt string             `yaml:"exported_at"`
	Session    exportSession      `yaml:"session"`
	Messages   []timeline.Message `yaml:"messages"`
}

type exportSession struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name,omitempty"`
	AgentType string `yaml:"agent_type"`
	DeviceID  string `yaml:"device_id,omitempty"`
	Status    string `yaml:"status,omitempty"`
	CreatedAt string `yaml:"created_at,omitempty"`
}

func NewExportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session timeline as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := Bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()

			sess, msgs, err := loadTimeline(cmd.Context(), rt, args[0])
			if err != nil {
				return err
			}
			doc := exportDocument{
				Version:    1,
				ExportedAt: time.Now().UTC().Format(time.RFC3339),
				Session: exportSession{
					ID:        sess.ID,
					Name:      sess.Name,
					AgentType: string(sess.AgentType.Normalize()),
					DeviceID:  sess.DeviceID,
					Status:    sess.Status,
				},
				Messages: scrubMessages(msgs),
			}
			if !sess.CreatedAt.IsZero() {
				doc.Session.CreatedAt = sess.CreatedAt.UTC().Format(time.RFC3339)
			}

			path := strings.TrimSpace(outPath)
			if path == "" || path == "-" {
				return writeExport(cmd.OutOrStdout(), doc)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			defer f.Close()
			if err := writeExport(f, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d messages to %s\n", len(msgs), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func writeExport(w io.Writer, doc exportDocument) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return enc.Close()
}

// scrubMessages strips credentials from user text and agent reasoning; the
// messages were reconciled for this export so they are modified in place.
func scrubMessages(msgs []timeline.Message) []timeline.Message {
	for i := range msgs {
		msgs[i].Content = redact.Clean(msgs[i].Content)
		for j := range msgs[i].Steps {
			msgs[i].Steps[j].Thinking = redact.Clean(msgs[i].Steps[j].Thinking)
		}
	}
	return msgs
}
