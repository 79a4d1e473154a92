package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/stitch/internal/output"
	"github.com/tanq16/stitch/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [DIR]",
		Short: "Remove part files left behind by interrupted builds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := utils.Clean(dir); err != nil {
				return fmt.Errorf("error cleaning %s: %w", dir, err)
			}
			fmt.Println(output.FSuccess("Temporary files cleaned up"))
			return nil
		},
	}
}
