package main

import (
	"fmt"

	"github.com/phototheology/palace/internal/judge"
	"github.com/phototheology/palace/internal/rubric"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rubricCmd = &cobra.Command{
	Use:   "rubric",
	Short: "Inspect judging rubrics",
}

var rubricPrint bool

var rubricCheckCmd = &cobra.Command{
	Use:   "check [rubric.yaml]",
	Short: "Validate a rubric file; with no file, check the built-in rubric",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := rubric.Default()
		source := "built-in"
		if len(args) == 1 {
			var err error
			if r, err = rubric.Load(args[0]); err != nil {
				logger.Error("rubric rejected", zap.String("path", args[0]), zap.Error(err))
				return err
			}
			source = args[0]
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "rubric %s (%s): %d criteria, %d bonuses, max base %d points\n",
			r.Version, source, len(r.Criteria), len(r.Bonuses), r.MaxBasePoints)
		for _, b := range r.Bonuses {
			fmt.Fprintf(out, "  +%d %s\n", judge.BonusValue(b.Key), b.Key)
		}
		if rubricPrint {
			fmt.Fprintf(out, "\n%s", r.SystemPrompt())
		}
		return nil
	},
}

func init() {
	rubricCheckCmd.Flags().BoolVar(&rubricPrint, "print", false, "print the judge system prompt")
	rubricCmd.AddCommand(rubricCheckCmd)
}
