// File: cmd/run.go
package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aibrowser-cli/internal/observability"
)

// errTaskFailed makes a failed run exit non-zero after its message is printed.
var errTaskFailed = errors.New("task did not complete")

// newRunCmd creates the `run` command, which executes one task.
func newRunCmd() *cobra.Command {
	var (
		maxSteps    int
		headless    bool
		interactive bool
	)

	runCmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a single browser task",
		Long: `Run a single task to completion. The task is every argument joined by spaces.
With --interactive, questions the agent asks are answered on stdin and the
run continues with the same conversation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			task := strings.TrimSpace(strings.Join(args, " "))
			if task == "" {
				return errors.New("task must not be empty")
			}

			if cmd.Flags().Changed("max-steps") {
				if maxSteps <= 0 {
					return fmt.Errorf("--max-steps must be a positive integer")
				}
				cfg.SetAgentMaxSteps(maxSteps)
			}
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}

			logger := observability.GetLogger().Named("run")
			out := cmd.OutOrStdout()

			sess, err := openSession(ctx, cfg, out, logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := sess.Close(); cerr != nil {
					logger.Warn("Failed to shut down session cleanly", zap.Error(cerr))
				}
			}()

			res := sess.runner.Run(ctx, task, false)
			printResult(out, res)

			if interactive {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for res.AwaitingUserInput && ctx.Err() == nil {
					fmt.Fprint(out, "reply> ")
					if !scanner.Scan() {
						break
					}
					reply := strings.TrimSpace(scanner.Text())
					if reply == "" {
						break
					}
					res = sess.runner.Run(ctx, reply, true)
					printResult(out, res)
				}
			}

			if err := ctx.Err(); err != nil {
				return err
			}
			if !res.Success && !res.AwaitingUserInput {
				return errTaskFailed
			}
			return nil
		},
	}

	runCmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Override agent.max_steps for this run")
	runCmd.Flags().BoolVar(&headless, "headless", false, "Run the browser without a window")
	runCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Answer the agent's questions on stdin")
	return runCmd
}
