package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mameuix/mameuix/internal/log"
	"github.com/mameuix/mameuix/internal/model"
)

var (
	userConfigPath string // /default/config/path/mameuix on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "mameuix")
}

func main() {
	// errors found before the config is loaded are logged as JSON too
	slog.SetDefault(log.New(os.Stderr, slog.LevelInfo))

	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is mameuix.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initMameuix

	verifyCmd.Flags().StringVar(&flagManifest, "manifest", "", "ROM manifest to verify, overrides verify.manifest")
	verifyCmd.Flags().StringVar(&flagOut, "out", "-", "where to write the YAML report, - is stdout")
	verifyCmd.Flags().BoolVar(&flagIssuesOnly, "issues", false, "report only items which did not verify")
	verifyCmd.Flags().BoolVar(&flagStrict, "strict", false, "exit with an error when any item did not verify")
	iconsCmd.Flags().StringVar(&flagIconDir, "dir", "", "icon directory, overrides icons.dir")
	tuiCmd.Flags().StringVar(&flagManifest, "manifest", "", "ROM manifest to verify, overrides verify.manifest")
	tuiCmd.Flags().StringVar(&flagIconDir, "dir", "", "icon directory to preload, overrides icons.dir")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(iconsCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("mameuix failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "mameuix",
	Short:        "Game library companion: ROM verification and icon loading",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a mameuix",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("mameuix: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:  %s\n", configPath)
		}
		fmt.Printf("mameuix: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initMameuix(cmd *cobra.Command, _ []string) error {
	if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else if envConfig, ok := os.LookupEnv("MAMEUIXCONFIG"); ok {
		configPath = envConfig
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "mameuix.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig(context.Background())
		configPath = filepath.Join(userConfigPath, "mameuix.yaml")
		if err := storeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.ConfigErrDetails(err) {
				slog.Error("invalid configuration", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Log.Verbose = true
	}

	// initialize logging
	slog.SetDefault(log.New(os.Stderr, config.Log.SlogLevel()))

	slog.Debug("mameuix run", "configPath", configPath)
	slog.Debug("mameuix run", "config", config)
	return nil
}

func storeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
