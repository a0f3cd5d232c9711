package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"thsw/config"
	"thsw/internal/api"
	"thsw/internal/astronomy"
	"thsw/internal/command"
	"thsw/internal/mqtt"
	"thsw/internal/switcher"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "thsw",
		Short:         "Sunrise/sunset theme switcher",
		Long:          "Runs a command at sunrise and another at sunset, computed locally with the NOAA solar position algorithm",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default $HOME/.config/thsw/config.ini)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(timesCmd())
	rootCmd.AddCommand(compareCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(initCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, config.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Please, create config file first (thsw init).\nSample content is:\n%s", config.Sample)
		}
		os.Exit(1)
	}
}

func newLogger(level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	if verbose {
		lvl = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           lvl,
	})
}

func loadConfig() (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, newLogger(cfg.Log.Level), nil
}

func newSwitcher(cfg *config.Config, logger *log.Logger, notifier switcher.Notifier) (*switcher.Switcher, error) {
	day, err := command.Parse(cfg.Commands.Day)
	if err != nil {
		return nil, fmt.Errorf("commands.day: %w", err)
	}
	night, err := command.Parse(cfg.Commands.Night)
	if err != nil {
		return nil, fmt.Errorf("commands.night: %w", err)
	}

	loc := astronomy.Location{
		Latitude:  *cfg.Location.Latitude,
		Longitude: *cfg.Location.Longitude,
	}
	if cfg.Location.UTCOffset != nil {
		loc.UTCOffset = *cfg.Location.UTCOffset
	}

	return switcher.New(switcher.Config{
		Location:    loc,
		FixedOffset: cfg.Location.UTCOffset != nil,
		Zone:        time.Local,
		Day:         day,
		Night:       night,
		Interval:    cfg.Scheduler.Interval,
		Runner:      command.NewRunner(logger, cfg.Scheduler.DryRun),
		Notifier:    notifier,
		Logger:      logger,
	}), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the switcher",
		Long:  "Evaluate the sun position periodically and run the day or night command on every transition",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
				Broker:      cfg.MQTT.Broker,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				Enabled:     cfg.MQTT.Enabled,
				Logger:      logger,
			})
			var notifier switcher.Notifier
			if err != nil {
				logger.Warn("MQTT connection failed", "err", err)
			} else {
				notifier = publisher
				if cfg.MQTT.Enabled {
					if err := publisher.PublishHomeAssistantDiscovery(); err != nil {
						logger.Warn("Home Assistant discovery failed", "err", err)
					}
				}
			}

			sw, err := newSwitcher(cfg, logger, notifier)
			if err != nil {
				return err
			}

			// Setup context for graceful shutdown
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var server *api.Server
			if cfg.API.Enabled {
				server = api.NewServer(api.ServerConfig{
					Port:       cfg.API.Port,
					Controller: sw,
					Logger:     logger,
				})
				go func() {
					if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("API server error", "err", err)
					}
				}()
			}

			logger.Info("thsw started, press Ctrl+C to stop")
			if err := sw.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("switcher error", "err", err)
			}

			logger.Info("shutting down")
			if server != nil {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				if err := server.Stop(shutdownCtx); err != nil {
					logger.Warn("API shutdown", "err", err)
				}
			}
			sw.Stop()
			return nil
		},
	}
}

func timesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "times",
		Short: "Print today's sunrise and sunset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			sw, err := newSwitcher(cfg, logger, nil)
			if err != nil {
				return err
			}

			loc, res := sw.Sun()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Location: %.4f, %.4f (UTC%+.1f)\n", loc.Latitude, loc.Longitude, loc.UTCOffset)
			if err := res.Err(); err != nil {
				fmt.Fprintf(out, "Solar noon: %s\n%v\n", res.Noon, err)
				return nil
			}
			fmt.Fprintf(out, "Sunrise:    %s\n", res.Sunrise)
			fmt.Fprintf(out, "Solar noon: %s\n", res.Noon)
			fmt.Fprintf(out, "Sunset:     %s\n", res.Sunset)
			return nil
		},
	}
}

func compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare",
		Short: "Compare today's sun times with other implementations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			sw, err := newSwitcher(cfg, logger, nil)
			if err != nil {
				return err
			}

			now := time.Now()
			loc := sw.Location(now)
			res := astronomy.Compute(now, loc)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-12s %-8s %-8s\n", "source", "sunrise", "sunset")
			if res.Condition == astronomy.Normal {
				fmt.Fprintf(out, "%-12s %-8s %-8s\n", "noaa", res.Sunrise, res.Sunset)
			} else {
				fmt.Fprintf(out, "%-12s %s\n", "noaa", res.Condition)
			}
			for _, ref := range astronomy.References(now, loc) {
				fmt.Fprintf(out, "%-12s %-8s %-8s\n", ref.Source, ref.Sunrise.Format("15:04"), ref.Sunset.Format("15:04"))
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "run day|night",
		Short:     "Run the day or night command once",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(astronomy.Day), string(astronomy.Night)},
		RunE: func(cmd *cobra.Command, args []string) error {
			phase, err := astronomy.ParsePhase(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			sw, err := newSwitcher(cfg, logger, nil)
			if err != nil {
				return err
			}
			return sw.Force(cmd.Context(), phase)
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a sample config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFile
			if path == "" {
				path = config.DefaultPath()
			}
			if err := config.WriteSample(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return nil
		},
	}
}
