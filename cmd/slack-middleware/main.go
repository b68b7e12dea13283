package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/rivernews/slack-middleware-server/internal/config"
	"github.com/rivernews/slack-middleware-server/internal/log"
	"github.com/rivernews/slack-middleware-server/internal/model"
	"github.com/rivernews/slack-middleware-server/internal/service"
	"github.com/rivernews/slack-middleware-server/internal/shutdown"

	"github.com/spf13/cobra"
)

const configName = "slack-middleware.yaml"

var (
	userConfigPath string // /default/config/path/slack-middleware on given OS
	configPath     string // actual config file used (if loaded)
	cfg            config.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagWait           bool   // value of dispatch --wait flag
	flagPrefix         bool   // value of import --prefix flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "slack-middleware")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	dispatchCmd.Flags().BoolVar(&flagWait, "wait", false, "wait for the supervisor job to finish")
	importCmd.Flags().BoolVar(&flagPrefix, "prefix", false, "import every object under the given key prefix")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse a config, setup logging
	rootCmd.PersistentPreRunE = initMiddleware

	controlCmd.AddCommand(pauseCmd, resumeCmd, terminateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(controlCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("slack-middleware failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "slack-middleware",
	Short:        "Orchestrates review scraper jobs on remote platforms",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "runs the queue workers, the http server and the cron trigger",
	RunE:  doServe,
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch ORG...",
	Short: "enqueues a supervisor job for the given organizations",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doDispatch,
}

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "operator controls of running queues",
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "stops both queues from starting new jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, s *service.Service) error {
			return s.Pause(ctx)
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "resumes both queues",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, s *service.Service) error {
			return s.Resume(ctx)
		})
	},
}

var terminateCmd = &cobra.Command{
	Use:   "terminate [REASON]",
	Short: "asks every running scraper job to stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		reason := strings.Join(args, " ")
		if reason == "" {
			reason = "terminated by operator"
		}
		return withService(cmd, func(ctx context.Context, s *service.Service) error {
			n, err := s.Terminate(ctx, reason)
			if err != nil {
				return err
			}
			fmt.Printf("terminate sent to %d receivers\n", n)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import KEY",
	Short: "enqueues a supervisor job from organization lists stored in s3",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, s *service.Service) error {
			id, err := s.ImportS3(ctx, args[0], flagPrefix)
			if err != nil {
				return err
			}
			if id == "" {
				fmt.Println("nothing to import")
				return nil
			}
			fmt.Println(id)
			return nil
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "prints the effective configuration without secrets",
	RunE: func(_ *cobra.Command, _ []string) error {
		return cfg.WriteYAML(os.Stdout)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a slack-middleware",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("slack-middleware: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("slack-middleware: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := shutdown.SignalContext(cmd.Context())
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("middleware",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))

	s, err := service.New(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := s.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.ErrorContext(ctx, "slack middleware stopped", "error", runErr)
	}
	hooksErr := s.Close(context.WithoutCancel(ctx))
	os.Exit(shutdown.ExitCode(runErr, hooksErr))
	return nil
}

func doDispatch(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, s *service.Service) error {
		req := model.SupervisorJobRequest{OrgInfoList: args}
		if len(args) == 1 {
			req = model.SupervisorJobRequest{OrgInfo: args[0]}
		}
		id, err := s.Enqueue(ctx, req)
		if err != nil {
			return err
		}
		fmt.Println(id)
		if !flagWait {
			return nil
		}
		result, err := s.Await(ctx, id)
		if err != nil {
			return err
		}
		fmt.Println(result)
		return nil
	})
}

// withService connects a client to the queues, runs f and closes the client
// again. Platforms are neither needed nor built.
func withService(cmd *cobra.Command, f func(context.Context, *service.Service) error) error {
	ctx, stop := shutdown.SignalContext(cmd.Context())
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("middleware",
		slog.String("cmd", cmd.Name()),
		slog.Int("pid", os.Getpid()),
	))

	s, err := service.NewClient(cfg)
	if err != nil {
		return err
	}
	err = s.Initialize(ctx, false)
	if err == nil {
		err = f(ctx, s)
	}
	return errors.Join(err, s.Close(context.WithoutCancel(ctx)))
}

func initMiddleware(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv(config.EnvPrefix + "_CONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, configName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		cfg.Verbose = true
	}
	slog.SetDefault(log.New(os.Stderr, cfg.Verbose))

	slog.Debug("slack-middleware run", "configPath", configPath)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
