// File: cmd/chat.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aibrowser-cli/internal/observability"
)

const chatBanner = `aibrowser interactive session
Type a task and press enter. When the agent asks a question, your next line
answers it. "reset" starts a new conversation, "exit" quits.
`

// newChatCmd creates the `chat` command, a REPL over one browser session.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session (default when no command is given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			logger := observability.GetLogger().Named("chat")
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

			fmt.Fprint(out, chatBanner)
			return chatLoop(ctx, sess.runner, cmd.InOrStdin(), out)
		},
	}
}

// chatLoop reads lines until EOF or exit. A line typed while the agent is
// waiting for input continues the current task instead of starting a new one.
func chatLoop(ctx context.Context, runner taskRunner, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		awaiting := runner.AwaitingInput()
		if awaiting {
			fmt.Fprint(out, "reply> ")
		} else {
			fmt.Fprint(out, "task> ")
		}
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(out, "Bye.")
			return nil
		case "reset":
			runner.ClearConversation()
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}

		res := runner.Run(ctx, line, awaiting)
		printResult(out, res)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return scanner.Err()
}
