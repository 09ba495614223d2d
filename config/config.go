/*
	Package config reads the scheduler's configuration surface (spec §6)
	from the environment via spf13/viper, the way config/config.go read
	REPEATR_MEMODIR from the environment -- except here there are enough
	knobs (five, per spec) to warrant a struct instead of one function per
	setting.
*/
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the configuration surface described in spec §6.
type Config struct {
	// MaxRetries bounds retries beyond the first attempt.
	MaxRetries int

	// DependencyTimeout bounds a ViewManager dependency lookup.
	DependencyTimeout time.Duration

	// FileActionTimeout bounds a filesystem request/reply through the
	// ActionRunner (Touch, Delete) or a direct existence check.
	FileActionTimeout time.Duration

	// SchemaActionTimeout bounds a SchemaService call.
	SchemaActionTimeout time.Duration

	// UserIdentity is the identity under which filesystem and action
	// calls run.
	UserIdentity string
}

const envPrefix = "VIEWSCHED"

// Defaults returns the configuration spec §6 describes as default.
func Defaults() Config {
	return Config{
		MaxRetries:          5,
		DependencyTimeout:   5 * time.Second,
		FileActionTimeout:   30 * time.Second,
		SchemaActionTimeout: 10 * time.Second,
		UserIdentity:        "scheduler",
	}
}

// Load reads Config from the environment, falling back to Defaults for
// anything unset. Environment variables are prefixed VIEWSCHED_, e.g.
// VIEWSCHED_MAX_RETRIES, VIEWSCHED_USER_IDENTITY.
func Load() Config {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("dependency_timeout", d.DependencyTimeout)
	v.SetDefault("file_action_timeout", d.FileActionTimeout)
	v.SetDefault("schema_action_timeout", d.SchemaActionTimeout)
	v.SetDefault("user_identity", d.UserIdentity)

	return Config{
		MaxRetries:          v.GetInt("max_retries"),
		DependencyTimeout:   v.GetDuration("dependency_timeout"),
		FileActionTimeout:   v.GetDuration("file_action_timeout"),
		SchemaActionTimeout: v.GetDuration("schema_action_timeout"),
		UserIdentity:        v.GetString("user_identity"),
	}
}
