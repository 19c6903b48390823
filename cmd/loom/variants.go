package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loom/internal/backend"
	"github.com/samcharles93/loom/internal/model"
)

func variantsCmd() *cli.Command {
	return &cli.Command{
		Name:    "variants",
		Aliases: []string{"ls"},
		Usage:   "List supported model variants and backends",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var data [][]string
			for _, name := range model.Names() {
				v, err := model.Resolve(name)
				if err != nil {
					v, err = model.ResolveEmbedding(name)
				}
				if err != nil {
					continue
				}
				vision := "-"
				if v.Visual != nil {
					vision = fmt.Sprintf("%dpx", v.Visual.ImageSize)
				}
				data = append(data, []string{
					v.Name,
					v.Family.String(),
					strconv.Itoa(v.Layers),
					humanize.Comma(int64(v.HiddenSize)),
					vision,
				})
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"NAME", "FAMILY", "LAYERS", "HIDDEN", "VISION"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()

			fmt.Printf("\nbackends: %v\n", backend.Available())
			return nil
		},
	}
}
