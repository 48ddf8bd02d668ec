package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/quicksync/internal/app"
	"github.com/1ureka/quicksync/internal/util"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		sessionID     string
		deviceID      string
		texts         []string
		files         []string
		statsInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Join a session and offer text and files",
		Long: `serve joins a session and answers content requests from other devices
until interrupted. Text is given as [id=]value, files as [uuid=]path; missing
ids are generated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			catalog, err := buildCatalog(texts, files)
			if err != nil {
				return err
			}
			printCatalog(catalog)

			ctx := cmd.Context()
			node, err := app.NewNode(ctx, cfg, sessionID, deviceID, catalog)
			if err != nil {
				return err
			}
			defer node.Close()

			if statsInterval > 0 {
				util.StartStatsReporter(ctx, statsInterval)
			}

			<-ctx.Done()
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&sessionID, "session", "", "Session id (required)")
	f.StringVar(&deviceID, "device", "", "This device's id (required)")
	f.StringArrayVar(&texts, "text", nil, "Text message as [id=]value (repeatable)")
	f.StringArrayVar(&files, "file", nil, "File message as [uuid=]path (repeatable)")
	f.DurationVar(&statsInterval, "stats", 5*time.Second, "Traffic report interval, 0 disables")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("device")
	return cmd
}

func buildCatalog(texts, files []string) (*app.Catalog, error) {
	c := app.NewCatalog()

	for _, t := range texts {
		id, value, ok := strings.Cut(t, "=")
		if !ok {
			id, value = "", t
		}
		c.AddText(id, value)
	}

	for _, f := range files {
		id, path := "", f
		if prefix, rest, ok := strings.Cut(f, "="); ok {
			if _, err := uuid.Parse(prefix); err == nil {
				id, path = prefix, rest
			}
		}
		if _, err := c.AddFile(id, path); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func printCatalog(c *app.Catalog) {
	messages := c.List()
	if len(messages) == 0 {
		pterm.Warning.Println("Nothing to serve; other devices will get \"Content not found\".")
		return
	}

	data := pterm.TableData{{"ID", "Kind", "Content"}}
	for _, m := range messages {
		content := m.Text
		if m.Kind == app.KindFile {
			content = fmt.Sprintf("%s (%s)", m.Filename, strings.TrimSpace(util.FormatBytes(float64(m.FileSize))))
		}
		data = append(data, []string{m.ID, string(m.Kind), content})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	pterm.Println()
}
