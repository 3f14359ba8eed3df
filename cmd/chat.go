package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/killallgit/tokenstream/pkg/config"
	"github.com/killallgit/tokenstream/pkg/headless"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Send one prompt and stream the reply",
	Long: `Send one prompt and stream the reply to stdout as it arrives.
Ctrl-C stops the reply and keeps what was received.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := viper.GetString("prompt")
		if prompt == "" {
			prompt = strings.Join(args, " ")
		}
		if strings.TrimSpace(prompt) == "" {
			return fmt.Errorf("a prompt is required: use --prompt or pass it as arguments")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return headless.RunHeadless(ctx, config.Get(), prompt, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	chatCmd.Flags().StringP("prompt", "p", "", "prompt to send")
	bindFlag("prompt", chatCmd.Flags().Lookup("prompt"))

	chatCmd.Flags().String("system", "", "system prompt")
	bindFlag("backend.system_prompt", chatCmd.Flags().Lookup("system"))

	chatCmd.Flags().Bool("repair", false, "try to repair malformed JSON records")
	bindFlag("parser.repair_malformed", chatCmd.Flags().Lookup("repair"))

	rootCmd.AddCommand(chatCmd)
}
