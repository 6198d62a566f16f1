package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"arrowhead/api/internal/config"
)

func newRootCommand() *cobra.Command {
	v := config.NewViper()
	root := &cobra.Command{
		Use:           "arrowhead-api",
		Short:         "Objective resume and edit-lock API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile(v)
		},
	}
	root.PersistentFlags().String("config", "", "optional config file (yaml, toml or json) with the same keys as the environment")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	mustBind(v, "config", root.PersistentFlags().Lookup("config"))
	mustBind(v, "LOG_LEVEL", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCommand(v), newMigrateCommand(v), newTokenCommand(v))
	return root
}

func readConfigFile(v *viper.Viper) error {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// mustBind ties a flag to a config key; the flag wins only when set.
func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}
