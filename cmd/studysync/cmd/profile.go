package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/theakshaypant/studysync/internal/config"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage configuration profiles",
	Long: `Manage configuration profiles for different deployments.

A profile overrides any config key, for example a staging database or a
separate OAuth client:

  profiles:
    staging:
      database:
        dsn: postgres://...
      google:
        client_id: ...`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all profiles",
	RunE:  runProfileList,
}

var profileShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show profile settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProfileShow,
}

var profileSetCmd = &cobra.Command{
	Use:   "set <name> <key=value>...",
	Short: "Create or update profile settings",
	Long: `Create a profile or update its settings.

Example:
  studysync profile set staging database.dsn=postgres://localhost/studysync sync.throttle=300ms`,
	Args: cobra.MinimumNArgs(2),
	RunE: runProfileSet,
}

var profileSetDefaultCmd = &cobra.Command{
	Use:   "default <name>",
	Short: "Set the default profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileSetDefault,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileSetDefaultCmd)
	rootCmd.AddCommand(configCmd)
}

func runProfileList(cmd *cobra.Command, args []string) error {
	profiles := viper.GetStringMap("profiles")
	defaultProfile := viper.GetString("default_profile")

	if len(profiles) == 0 {
		fmt.Println("No profiles configured.")
		fmt.Println("\nAdd one with: studysync profile set <name> <key=value>")
		return nil
	}

	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available profiles:")
	fmt.Println("─────────────────────────────────────────────────")
	for _, name := range names {
		marker := "  "
		if name == defaultProfile {
			marker = "* "
		}
		fmt.Printf("%s%s\n", marker, name)
	}
	fmt.Println("─────────────────────────────────────────────────")
	if defaultProfile != "" {
		fmt.Printf("Default: %s\n", defaultProfile)
	}
	fmt.Println("\nUse 'studysync profile show <name>' for details")

	return nil
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	var profileName string
	if len(args) > 0 {
		profileName = args[0]
	} else {
		profileName = viper.GetString("default_profile")
		if profileName == "" {
			return fmt.Errorf("no profile specified and no default profile set")
		}
	}

	profileKey := "profiles." + profileName
	if !viper.IsSet(profileKey) {
		return fmt.Errorf("profile '%s' not found", profileName)
	}
	sub := viper.Sub(profileKey)
	if sub == nil {
		return fmt.Errorf("profile '%s' is not a map", profileName)
	}

	fmt.Printf("Profile: %s\n", profileName)
	if profileName == viper.GetString("default_profile") {
		fmt.Println("(default)")
	}
	fmt.Println("─────────────────────────────────────────────────")

	keys := sub.AllKeys()
	sort.Strings(keys)
	for _, key := range keys {
		val := fmt.Sprint(sub.Get(key))
		if sensitiveKey(key) && val != "" {
			val = "********"
		}
		fmt.Printf("  %s: %s\n", key, val)
	}
	fmt.Println()
	return nil
}

// sensitiveKey reports keys whose values are never printed.
func sensitiveKey(key string) bool {
	for _, s := range []string{"secret", "dsn", "token_key", "password"} {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func runProfileSet(cmd *cobra.Command, args []string) error {
	profileName := args[0]
	settings := make(map[string]any, len(args)-1)
	for _, kv := range args[1:] {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("setting %q must look like key=value", kv)
		}
		settings[strings.TrimSpace(key)] = val
	}

	if err := saveProfileToConfig(profileName, settings); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	fmt.Printf("✓ Profile '%s' saved\n", profileName)
	fmt.Printf("\nUse it with: studysync -p %s\n", profileName)
	fmt.Printf("Set as default: studysync profile default %s\n", profileName)
	return nil
}

func runProfileSetDefault(cmd *cobra.Command, args []string) error {
	profileName := args[0]

	profileKey := "profiles." + profileName
	if !viper.IsSet(profileKey) {
		return fmt.Errorf("profile '%s' not found", profileName)
	}

	if err := setDefaultProfileInConfig(profileName); err != nil {
		return fmt.Errorf("failed to set default profile: %w", err)
	}

	fmt.Printf("✓ Default profile set to '%s'\n", profileName)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n", getConfigPath())
	fmt.Print(string(data))
	return nil
}

// Config file manipulation functions

func getConfigPath() string {
	if cfgFile != "" {
		return expandPath(cfgFile)
	}
	return filepath.Join(configDir(), "config.yaml")
}

func readConfigFile() (map[string]any, error) {
	data, err := os.ReadFile(getConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]any), nil
		}
		return nil, err
	}

	var cfg map[string]any
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = make(map[string]any)
	}
	return cfg, nil
}

func writeConfigFile(cfg map[string]any) error {
	configPath := getConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// The file may hold client secrets.
	return os.WriteFile(configPath, data, 0o600)
}

// saveProfileToConfig merges dotted settings into profiles.<name>.
func saveProfileToConfig(name string, settings map[string]any) error {
	cfg, err := readConfigFile()
	if err != nil {
		return err
	}

	profiles, ok := cfg["profiles"].(map[string]any)
	if !ok {
		profiles = make(map[string]any)
	}
	profile, ok := profiles[name].(map[string]any)
	if !ok {
		profile = make(map[string]any)
	}
	for key, val := range settings {
		setNested(profile, strings.Split(key, "."), val)
	}

	profiles[name] = profile
	cfg["profiles"] = profiles

	return writeConfigFile(cfg)
}

func setNested(m map[string]any, path []string, val any) {
	if len(path) == 1 {
		m[path[0]] = val
		return
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		m[path[0]] = child
	}
	setNested(child, path[1:], val)
}

func setDefaultProfileInConfig(name string) error {
	cfg, err := readConfigFile()
	if err != nil {
		return err
	}

	cfg["default_profile"] = name

	return writeConfigFile(cfg)
}
