package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/asgeir/slickscreen/internal/device"
	"github.com/asgeir/slickscreen/internal/util"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type ListScreensOptions struct {
	OutputFormat string
}

// listDisplays is swapped out in tests.
var listDisplays = device.ListDisplays

func NewListScreensCommand() *cobra.Command {
	opts := &ListScreensOptions{}

	cmd := &cobra.Command{
		Use:   "list-screens",
		Short: "List the displays that can be recorded",
		Example: `  slick list-screens
  slick list-screens --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			return ExecuteListScreens(ctx, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.OutputFormat, "format", "f", "text", "Output format (json or text)")
	cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "text"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func ExecuteListScreens(ctx context.Context, out io.Writer, opts *ListScreensOptions) error {
	displays, err := listDisplays(ctx)
	if err != nil && !errors.Is(err, device.ErrNoDisplays) {
		return errors.Wrap(err, "failed to list displays")
	}

	switch opts.OutputFormat {
	case "json":
		if displays == nil {
			displays = []device.Display{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(displays)
	case "text", "":
	default:
		return errors.Errorf("unsupported format %q", opts.OutputFormat)
	}

	if len(displays) == 0 {
		fmt.Fprintln(out, "No displays were found")
		return nil
	}

	columns := []util.TableColumn{
		{Header: "INDEX", Key: "index"},
		{Header: "NAME", Key: "name"},
		{Header: "RESOLUTION", Key: "resolution"},
		{Header: "POSITION", Key: "position"},
		{Header: "PRIMARY", Key: "primary"},
	}
	rows := make([]map[string]interface{}, 0, len(displays))
	for _, d := range displays {
		primary := ""
		if d.Primary {
			primary = color.GreenString("yes")
		}
		rows = append(rows, map[string]interface{}{
			"index":      d.Index,
			"name":       d.Name,
			"resolution": fmt.Sprintf("%dx%d", d.Width, d.Height),
			"position":   fmt.Sprintf("%d,%d", d.X, d.Y),
			"primary":    primary,
		})
	}
	util.RenderTable(out, columns, rows)
	return nil
}
