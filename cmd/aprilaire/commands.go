package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zberg/go-aprilaire/pkg/aprilaire"
	"github.com/zberg/go-aprilaire/pkg/simulator"
)

const defaultConfigPath = "aprilaire.yaml"

var (
	configPath string
	targetHost string
	targetPort int
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&targetHost, "host", "", "IP address or hostname of the thermostat")
	rootCmd.PersistentFlags().IntVar(&targetPort, "port", 0, "TCP port of the thermostat")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	setCmd.Flags().String("mode", "", "thermostat mode: off, heat, cool, emergency_heat, auto")
	setCmd.Flags().String("fan", "", "fan mode: on, auto, circulate")
	setCmd.Flags().Float64("heat", 0, "heat setpoint in degrees Celsius")
	setCmd.Flags().Float64("cool", 0, "cool setpoint in degrees Celsius")
	setCmd.Flags().Int("hold", -1, "schedule hold state")

	simCmd.Flags().String("addr", simulator.DefaultAddr, "listen address for the simulator")
	simCmd.Flags().Duration("cos-interval", simulator.DefaultCOSInterval, "period between unsolicited status pushes")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(simCmd)
}

func newLogger() *slog.Logger {
	if !verbose {
		return nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func loadConfig() (*Config, error) {
	path := configPath
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	cfg, err := LoadConfig(path, explicit)
	if err != nil {
		return nil, err
	}
	if targetHost != "" {
		cfg.Host = targetHost
	}
	if targetPort != 0 {
		cfg.Port = targetPort
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("no thermostat host configured; pass --host or set host in %s", path)
	}
	return cfg, nil
}

func getClient(ctx context.Context) (*aprilaire.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	opts := []aprilaire.ClientOption{
		aprilaire.WithPort(cfg.Port),
		aprilaire.WithReconnectInterval(cfg.ReconnectInterval()),
		aprilaire.WithReadTimeout(cfg.ReadTimeout()),
		aprilaire.WithRequestTimeout(cfg.RequestTimeout()),
	}
	if logger := newLogger(); logger != nil {
		opts = append(opts, aprilaire.WithLogger(logger))
	}

	client, err := aprilaire.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current thermostat status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		ctx := cmd.Context()

		ident, err := client.ReadIdentification(ctx)
		if err != nil {
			return fmt.Errorf("read identification: %w", err)
		}
		nameLoc, err := client.ReadNameLocation(ctx)
		if err != nil {
			return fmt.Errorf("read name: %w", err)
		}
		control, err := client.ReadControl(ctx)
		if err != nil {
			return fmt.Errorf("read control: %w", err)
		}
		sensors, err := client.ReadSensors(ctx)
		if err != nil {
			return fmt.Errorf("read sensors: %w", err)
		}

		fmt.Printf("%s (%s, firmware %d.%d)\n",
			nameLoc.Name, ident.ModelName(), ident.FirmwareMajor, ident.FirmwareMinor)
		fmt.Printf("Mode=%s Fan=%s HeatSetpoint=%.1f CoolSetpoint=%.1f\n",
			control.Mode, control.FanMode, control.HeatSetpoint, control.CoolSetpoint)
		fmt.Printf("Indoor: %.1f°C %d%%RH  Outdoor: %.1f°C %d%%RH\n",
			sensors.IndoorTemperature, sensors.IndoorHumidity,
			sensors.OutdoorTemperature, sensors.OutdoorHumidity)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream state changes from the thermostat",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := getClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		sub := client.Subscribe()
		defer sub.Close()

		fmt.Println("Watching for state changes (Ctrl-C to stop)...")
		for {
			select {
			case update, ok := <-sub.C:
				if !ok {
					return nil
				}
				keys := make([]string, 0, len(update.Changed))
				for k := range update.Changed {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Printf("[rev %d] %s = %v\n", update.Revision, k, update.Changed[k])
				}
			case <-ctx.Done():
				return nil
			}
		}
	},
}

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Change thermostat settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		ctx := cmd.Context()
		applied := false

		if cmd.Flags().Changed("mode") {
			name, _ := cmd.Flags().GetString("mode")
			mode, err := parseMode(name)
			if err != nil {
				return err
			}
			if err := client.SetMode(ctx, mode); err != nil {
				return fmt.Errorf("set mode: %w", err)
			}
			fmt.Printf("Mode set to %s\n", mode)
			applied = true
		}

		if cmd.Flags().Changed("fan") {
			name, _ := cmd.Flags().GetString("fan")
			fan, err := parseFanMode(name)
			if err != nil {
				return err
			}
			if err := client.SetFanMode(ctx, fan); err != nil {
				return fmt.Errorf("set fan mode: %w", err)
			}
			fmt.Printf("Fan mode set to %s\n", fan)
			applied = true
		}

		if cmd.Flags().Changed("heat") || cmd.Flags().Changed("cool") {
			heat, _ := cmd.Flags().GetFloat64("heat")
			cool, _ := cmd.Flags().GetFloat64("cool")
			if err := client.SetSetpoints(ctx, heat, cool); err != nil {
				return fmt.Errorf("set setpoints: %w", err)
			}
			fmt.Println("Setpoints updated")
			applied = true
		}

		if cmd.Flags().Changed("hold") {
			hold, _ := cmd.Flags().GetInt("hold")
			if hold < 0 || hold > 255 {
				return fmt.Errorf("hold must be between 0 and 255")
			}
			if err := client.SetHold(ctx, uint8(hold)); err != nil {
				return fmt.Errorf("set hold: %w", err)
			}
			fmt.Printf("Hold set to %d\n", hold)
			applied = true
		}

		if !applied {
			return fmt.Errorf("nothing to set; pass --mode, --fan, --heat/--cool or --hold")
		}
		return nil
	},
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run a thermostat simulator for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		cosInterval, _ := cmd.Flags().GetDuration("cos-interval")

		logger := newLogger()
		if logger == nil {
			logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
		}

		srv := simulator.New(simulator.Config{
			Addr:        addr,
			COSInterval: cosInterval,
			Logger:      logger,
		})
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Close()

		fmt.Printf("Simulator listening on %s (Ctrl-C to stop)\n", srv.Addr())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

func parseMode(name string) (aprilaire.Mode, error) {
	switch name {
	case "off":
		return aprilaire.ModeOff, nil
	case "heat":
		return aprilaire.ModeHeat, nil
	case "cool":
		return aprilaire.ModeCool, nil
	case "emergency_heat":
		return aprilaire.ModeEmergencyHeat, nil
	case "auto":
		return aprilaire.ModeAuto, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", name)
	}
}

func parseFanMode(name string) (aprilaire.FanMode, error) {
	switch name {
	case "on":
		return aprilaire.FanOn, nil
	case "auto":
		return aprilaire.FanAuto, nil
	case "circulate":
		return aprilaire.FanCirculate, nil
	default:
		return 0, fmt.Errorf("unknown fan mode %q", name)
	}
}
