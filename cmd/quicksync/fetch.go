package main

import (
	"fmt"
	"mime"
	"os"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/1ureka/quicksync/internal/app"
	"github.com/1ureka/quicksync/internal/transfer"
	"github.com/1ureka/quicksync/internal/util"
)

func newFetchCmd(flags *globalFlags) *cobra.Command {
	var (
		sessionID string
		deviceID  string
		ownerID   string
		messageID string
		isFile    bool
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one message from another device",
		Long: `fetch joins a session, requests a message from its owner and exits.
Text is printed to stdout; files are written to --out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if deviceID == "" {
				deviceID = "fetch-" + uuid.NewString()[:8]
			}

			ctx := cmd.Context()
			node, err := app.NewNode(ctx, cfg, sessionID, deviceID, nil)
			if err != nil {
				return err
			}
			defer node.Close()

			var onProgress func(float64)
			var bar *progressbar.ProgressBar
			if isFile {
				bar = progressbar.NewOptions(100,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetDescription("receiving"),
					progressbar.OptionSetPredictTime(false),
					progressbar.OptionClearOnFinish(),
				)
				onProgress = func(p float64) { bar.Set(int(p)) }
			}

			content, err := node.Fetch(ctx, ownerID, messageID, isFile, onProgress)
			if bar != nil {
				bar.Finish()
			}
			if err != nil {
				return fmt.Errorf("failed to fetch %s from %s: %w", messageID, ownerID, err)
			}

			return writeContent(content, messageID, outPath)
		},
	}

	f := cmd.Flags()
	f.StringVar(&sessionID, "session", "", "Session id (required)")
	f.StringVar(&deviceID, "device", "", "This device's id (default: generated)")
	f.StringVar(&ownerID, "from", "", "Device that owns the message (required)")
	f.StringVar(&messageID, "message", "", "Message id (required)")
	f.BoolVar(&isFile, "file", false, "The message is a file")
	f.StringVar(&outPath, "out", "", "Output path for files (default: message id plus extension)")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("message")
	return cmd
}

func writeContent(content transfer.Content, messageID, outPath string) error {
	switch c := content.(type) {
	case transfer.Text:
		fmt.Println(string(c))
		return nil

	case transfer.Blob:
		if outPath == "" {
			outPath = messageID
			if exts, _ := mime.ExtensionsByType(c.MIMEType); len(exts) > 0 {
				outPath += exts[0]
			}
		}
		if err := os.WriteFile(outPath, c.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		util.LogSuccess("file received", "path", outPath, "size", util.FormatBytes(float64(len(c.Data))))
		return nil

	default:
		pterm.Warning.Printfln("unexpected content type %T", content)
		return nil
	}
}
