package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/stitch/internal/combine"
	"github.com/tanq16/stitch/internal/manifest"
	"github.com/tanq16/stitch/internal/output"
	"github.com/tanq16/stitch/internal/utils"
)

func newInspectCmd() *cobra.Command {
	var showPieces bool

	cmd := &cobra.Command{
		Use:   "inspect [MANIFEST_FILE_OR_URL]",
		Short: "Parse and validate a manifest without fetching pieces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readManifest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			m, err := manifest.Parse(data)
			if err != nil {
				return err
			}
			printManifest(m, showPieces)
			issues := m.Validate()
			for _, issue := range issues {
				fmt.Println("  " + output.FError(issue.String()))
			}
			return manifest.Err(issues)
		},
	}
	cmd.Flags().BoolVar(&showPieces, "pieces", false, "List every piece with its offset")
	return cmd
}

func readManifest(ctx context.Context, location string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parsed, err := url.Parse(location)
	if err != nil || parsed.Scheme == "" || len(parsed.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return os.ReadFile(location)
	}
	switch parsed.Scheme {
	case "http", "https":
		client := utils.NewStitchHTTPClient(httpClientConfig(globalConfig))
		return combine.NewHTTPTransport(client, combine.WithRetry(globalConfig.Retry)).Fetch(ctx, location, nil)
	case "s3":
		transport, err := combine.NewS3Transport(ctx, globalConfig.AWSProfile, 0)
		if err != nil {
			return nil, err
		}
		return transport.Fetch(ctx, location, nil)
	default:
		return nil, fmt.Errorf("%w: %s", utils.ErrUnsupportedScheme, parsed.Scheme)
	}
}

func printManifest(m *manifest.Manifest, showPieces bool) {
	fmt.Println(output.FHeader(fmt.Sprintf("%d targets • %d pieces • %s",
		len(m.Targets), m.PieceCount(), utils.FormatBytes(uint64(max(m.TotalSize(), 0))))))
	for _, t := range m.Targets {
		fmt.Printf("  %s %s\n", output.FInfo(t.Name), output.FMuted(fmt.Sprintf("%s in %d pieces", utils.FormatBytes(uint64(max(t.Size, 0))), len(t.Pieces))))
		if !showPieces {
			continue
		}
		for _, p := range t.Pieces {
			fmt.Printf("      %s\n", output.FMuted(fmt.Sprintf("%-40s @ %d", p.Name, p.Offset)))
		}
	}
}
