package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theakshaypant/studysync/internal/config"
)

var (
	cfgFile string
	profile string
)

var rootCmd = &cobra.Command{
	Use:   "studysync",
	Short: "Keeps study plans and calendars in step",
	Long: `studysync mirrors the sessions of a study plan into Google Calendar or
Outlook, notices when the calendar side drifts, and tells you when you are free.

Run 'studysync serve' for the HTTP API, or use the subcommands directly
against the same database.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/studysync/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "config profile to use (e.g., staging, local)")
	rootCmd.PersistentFlags().StringP("user", "u", "", "platform user id the command acts for")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("database-dsn", "", "postgres connection string")

	viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("database-dsn"))
}

func configDir() string {
	return filepath.Join(xdg.ConfigHome, "studysync")
}

func initConfig() {
	// A local .env is a convenience for development; its absence is normal.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(expandPath(cfgFile))
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	active := profile
	if active == "" {
		active = viper.GetString("default_profile")
	}
	if active == "" {
		return
	}
	if err := applyProfile(viper.GetViper(), active); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "Using profile: %s\n", active)
}

// applyProfile merges profiles.<name> over the base settings, except for
// keys the user set explicitly on the command line.
func applyProfile(v *viper.Viper, name string) error {
	profileKey := "profiles." + name
	if !v.IsSet(profileKey) {
		return fmt.Errorf("profile '%s' not found in config", name)
	}
	sub := v.Sub(profileKey)
	if sub == nil {
		return fmt.Errorf("profile '%s' is not a map", name)
	}
	for _, key := range sub.AllKeys() {
		if isFlagExplicitlySet(key) {
			continue
		}
		v.Set(key, sub.Get(key))
	}
	return nil
}

func isFlagExplicitlySet(viperKey string) bool {
	flagName := strings.NewReplacer("_", "-", ".", "-").Replace(viperKey)
	f := rootCmd.PersistentFlags().Lookup(flagName)

	return f != nil && f.Changed
}

func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// currentUser reads --user, falling back to STUDYSYNC_USER or the profile.
func currentUser() (uuid.UUID, error) {
	raw := viper.GetString("user")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("no user selected\n\nPass --user <uuid> or set STUDYSYNC_USER")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q: %w", raw, err)
	}
	return id, nil
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				return nil, fmt.Errorf("invalid id %q: %w", part, err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// parseDate parses date strings like "today", "tomorrow", "monday", "next friday", or "2024-01-15".
func parseDate(s string, now time.Time) (time.Time, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch s {
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	}

	weekdays := map[string]time.Weekday{
		"sunday": time.Sunday, "sun": time.Sunday,
		"monday": time.Monday, "mon": time.Monday,
		"tuesday": time.Tuesday, "tue": time.Tuesday,
		"wednesday": time.Wednesday, "wed": time.Wednesday,
		"thursday": time.Thursday, "thu": time.Thursday,
		"friday": time.Friday, "fri": time.Friday,
		"saturday": time.Saturday, "sat": time.Saturday,
	}

	// Handle "next <weekday>"
	dayName := strings.TrimPrefix(s, "next ")
	if wd, ok := weekdays[dayName]; ok {
		daysUntil := int(wd - today.Weekday())
		if daysUntil <= 0 {
			daysUntil += 7
		}
		return today.AddDate(0, 0, daysUntil), nil
	}

	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}

	// MM-DD and MM/DD fall in the current year.
	for _, layout := range []string{"01-02", "01/02"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t.AddDate(now.Year(), 0, 0), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date format: %s (use YYYY-MM-DD, 'today', 'tomorrow', or weekday names)", s)
}

// parseWeekdays accepts names or numbers (0 = Sunday), comma separated.
func parseWeekdays(s string) ([]time.Weekday, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	names := map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
		"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
	}
	var out []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if len(part) == 1 && part[0] >= '0' && part[0] <= '6' {
			out = append(out, time.Weekday(part[0]-'0'))
			continue
		}
		if len(part) >= 3 {
			if wd, ok := names[part[:3]]; ok {
				out = append(out, wd)
				continue
			}
		}
		return nil, fmt.Errorf("invalid weekday %q", part)
	}
	return out, nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
