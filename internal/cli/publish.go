package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nidhogg/aegis-council/internal/ingest"
	"github.com/spf13/cobra"
)

var (
	publishStream string
	publishKind   string
	publishTopic  string
	publishFile   string
)

func init() {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a transaction or stream record onto a Redis ingest stream",
		Long:  "Reads a JSON payload from --file or stdin, wraps it in an ingest envelope and appends it with XADD.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			in := cmd.InOrStdin()
			if publishFile != "" {
				f, err := os.Open(publishFile)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			stream := publishStream
			if stream == "" {
				stream = defaultStream(cfg.Ingest.Streams, publishKind)
			}

			rdb, err := ingest.Connect(cmd.Context(), cfg.Database.Redis.URL)
			if err != nil {
				return err
			}
			defer rdb.Close()

			id, err := runPublish(cmd.Context(), rdb, in, stream, publishKind, publishTopic)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", id, stream)
			return nil
		},
	}
	cmd.Flags().StringVarP(&publishStream, "stream", "s", "", "Target stream (default: first configured ingest stream for the kind)")
	cmd.Flags().StringVarP(&publishKind, "kind", "k", ingest.KindTransaction, "Envelope kind: transaction or stream")
	cmd.Flags().StringVarP(&publishTopic, "topic", "t", "", "Topic for stream records")
	cmd.Flags().StringVarP(&publishFile, "file", "f", "", "Payload file (default: stdin)")

	RootCmd.AddCommand(cmd)
}

// defaultStream picks the first configured stream, or the second for
// stream records when two are configured.
func defaultStream(streams []string, kind string) string {
	switch {
	case len(streams) == 0:
		return ""
	case kind == ingest.KindStream && len(streams) > 1:
		return streams[1]
	default:
		return streams[0]
	}
}

// runPublish validates the payload the same way the consumer will before
// appending it.
func runPublish(ctx context.Context, rdb ingest.StreamClient, in io.Reader, stream, kind, topic string) (string, error) {
	if stream == "" {
		return "", fmt.Errorf("no target stream: pass --stream or configure ingest.streams")
	}
	var payload json.RawMessage
	if err := json.NewDecoder(in).Decode(&payload); err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	env := &ingest.Envelope{Kind: kind, Topic: topic, Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	if _, err := ingest.Decode(data); err != nil {
		return "", err
	}
	return ingest.Publish(ctx, rdb, stream, env)
}
