package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envAliases maps config keys to additional environment variable names
// accepted after the BEAM_-prefixed form. The first non-empty value wins.
var envAliases = map[string][]string{
	"auth.secret":        {"JWT_SECRET"},
	"inference.api_key":  {"OPENAI_API_KEY"},
	"inference.model":    {"OPENAI_MODEL"},
	"embeddings.api_key": {"OPENAI_API_KEY"},
	"store.dsn":          {"DATABASE_URL"},
	"artifacts.token":    {"GITHUB_TOKEN"},
	"artifacts.owner":    {"GITHUB_OWNER"},
	"artifacts.repo":     {"GITHUB_REPO"},
}

func bindEnvAliases(v *viper.Viper) error {
	for key, aliases := range envAliases {
		input := append([]string{key, envName(key)}, aliases...)
		if err := v.BindEnv(input...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func envName(key string) string {
	return "BEAM_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
