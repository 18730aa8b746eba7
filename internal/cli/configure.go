package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/selim/orkestra/internal/config"
)

var (
	confOpenAIKey    string
	confAnthropicKey string
	confDefsDir      string
	confTelegram     string
	confShow         bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write or inspect the configuration file",
	Long: `Write configuration values to the config file, validating them first.
With --show, print the effective configuration with secrets redacted.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&confOpenAIKey, "openai-key", "", "OpenAI API key")
	configureCmd.Flags().StringVar(&confAnthropicKey, "anthropic-key", "", "Anthropic API key")
	configureCmd.Flags().StringVar(&confDefsDir, "definitions", "", "agent and workflow definitions directory")
	configureCmd.Flags().StringVar(&confTelegram, "telegram", "", "telegram approval channel as <bot_token>:<chat_id>[,<chat_id>...]")
	configureCmd.Flags().BoolVar(&confShow, "show", false, "print the effective configuration and exit")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	if confShow {
		fmt.Fprintln(os.Stdout, cfg.String())
		return nil
	}

	validator := config.NewValidator()
	changed := false

	if confOpenAIKey != "" {
		if err := validator.ValidateAPIKey(confOpenAIKey, "openai"); err != nil {
			return err
		}
		cfg.Providers.OpenAIAPIKey = confOpenAIKey
		changed = true
	}
	if confAnthropicKey != "" {
		if err := validator.ValidateAPIKey(confAnthropicKey, "anthropic"); err != nil {
			return err
		}
		cfg.Providers.AnthropicAPIKey = confAnthropicKey
		changed = true
	}
	if confDefsDir != "" {
		cfg.Definitions.Dir = confDefsDir
		changed = true
	}
	if confTelegram != "" {
		token, chats, err := parseTelegramFlag(confTelegram)
		if err != nil {
			return err
		}
		if err := validator.ValidateTelegramToken(token); err != nil {
			return err
		}
		cfg.Telegram.Enabled = true
		cfg.Telegram.BotToken = token
		cfg.Telegram.ChatIDs = chats
		changed = true
	}

	if !changed {
		return fmt.Errorf("nothing to configure; pass at least one flag or --show")
	}

	if err := loader.Save(cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "configuration written to %s\n", loader.GetConfigPath())
	return nil
}

// parseTelegramFlag splits "<bot_id>:<token>:<chat_id>[,...]" on the last
// colon, since the bot token itself contains one.
func parseTelegramFlag(value string) (string, []int64, error) {
	i := strings.LastIndex(value, ":")
	if i <= 0 || i == len(value)-1 {
		return "", nil, fmt.Errorf("expected <bot_token>:<chat_id>[,<chat_id>...]")
	}
	token := value[:i]

	var chats []int64
	for _, part := range strings.Split(value[i+1:], ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid chat id %q", part)
		}
		chats = append(chats, id)
	}
	return token, chats, nil
}
