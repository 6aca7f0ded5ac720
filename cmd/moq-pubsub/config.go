package main

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/moq-relay/internal/config"
)

// Config holds publish and subscribe settings.
type Config struct {
	config.BaseConfig `mapstructure:",squash"`

	Namespace       string        `mapstructure:"namespace"`
	Track           string        `mapstructure:"track"`
	Insecure        bool          `mapstructure:"insecure"`
	ObjectsPerGroup int           `mapstructure:"objects_per_group"`
	ObjectDelay     time.Duration `mapstructure:"object_delay"`
	GroupDelay      time.Duration `mapstructure:"group_delay"`
	Groups          int           `mapstructure:"groups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("namespace", config.PubSubDefaults.Namespace)
	v.SetDefault("track", config.PubSubDefaults.Track)
	v.SetDefault("insecure", false)
	v.SetDefault("objects_per_group", config.PubSubDefaults.ObjectsPerGroup)
	v.SetDefault("object_delay", config.PubSubDefaults.ObjectDelay)
	v.SetDefault("group_delay", config.PubSubDefaults.GroupDelay)
	v.SetDefault("groups", 0)
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	config.BindCommonFlags(cmd, v)

	f := cmd.Flags()
	f.String("config", "", "config file path")
	f.StringP("namespace", "n", "", "broadcast namespace")
	f.StringP("track", "t", "", "track name")
	f.Bool("insecure", false, "skip relay certificate verification")
	f.StringP("output", "o", "text", "summary format (text, json, markdown)")

	_ = v.BindPFlag("namespace", f.Lookup("namespace"))
	_ = v.BindPFlag("track", f.Lookup("track"))
	_ = v.BindPFlag("insecure", f.Lookup("insecure"))
	_ = v.BindPFlag("output", f.Lookup("output"))
}

func loadConfig(cmd *cobra.Command, v *viper.Viper) (Config, error) {
	setDefaults(v)
	configFile, _ := cmd.Flags().GetString("config")

	var cfg Config
	err := config.LoadInto(v, "MOQ_PUBSUB", configFile, &cfg, filepath.Join(config.Common.DataDir, "pubsub"))
	return cfg, err
}
