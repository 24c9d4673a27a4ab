package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"typrd/internal/config"
	"typrd/internal/engine"
	"typrd/internal/httpapi"
	"typrd/internal/netbind"
	"typrd/internal/platform"
	"typrd/internal/registry"
	"typrd/internal/remote"
	"typrd/internal/settings"
	"typrd/internal/sharing"
	"typrd/pkg/types"
)

// version is stamped by the build.
var version = "dev"

type app struct {
	configPath string
	logLevel   string
	dataDir    string
	modelsDir  string

	cfg config.Config
	log zerolog.Logger
}

func (a *app) setup() error {
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", a.configPath, err)
		}
		a.cfg = cfg
	}

	level := a.logLevel
	if level == "" {
		level = a.cfg.LogLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	a.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()

	if a.dataDir == "" {
		a.dataDir = a.cfg.DataDir
	}
	if a.dataDir == "" {
		dir, err := settings.ResolveDataDir()
		if err != nil {
			return err
		}
		a.dataDir = dir
	}
	if a.modelsDir == "" {
		a.modelsDir = a.cfg.ModelsDir
	}
	if a.modelsDir == "" {
		a.modelsDir = filepath.Join(a.dataDir, "models")
	}
	return nil
}

func (a *app) machineID() string {
	id, err := platform.MachineID()
	if err != nil {
		a.log.Warn().Err(err).Msg("machine id unavailable, falling back to hostname")
		host, herr := os.Hostname()
		if herr != nil {
			return "unknown"
		}
		return host
	}
	return id
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "typrd",
		Short:         "Local transcription daemon with peer-to-peer model sharing",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (.yaml, .json or .toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "application data directory")
	root.PersistentFlags().StringVar(&a.modelsDir, "models-dir", "", "whisper model directory")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newStatusCmd(a))
	root.AddCommand(newConnectionsCmd(a))
	root.AddCommand(newTranscribeCmd(a))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newServeCmd(a *app) *cobra.Command {
	var (
		share    bool
		port     int
		password string
		name     string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: health monitoring plus the sharing server when enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := settings.Open(a.dataDir)
			if err != nil {
				return err
			}
			reg, err := registry.Open(a.dataDir)
			if err != nil {
				return err
			}
			defer reg.Close()

			if name == "" {
				name = a.cfg.DisplayName
			}
			if name != "" {
				if err := st.SetDisplayName(name); err != nil {
					return err
				}
			}

			inv, err := engine.NewInventory(a.modelsDir)
			if err != nil {
				return err
			}
			machineID := a.machineID()

			httpapi.SetLogger(a.log)
			httpapi.SetBaseContext(ctx)

			ctrl := sharing.New(sharing.Config{
				Version:     version,
				MachineID:   machineID,
				Inventory:   inv,
				Transcriber: engine.NewWhisperEngine(runtime.NumCPU()),
				Resolver:    netbind.New(),
				Settings:    st,
				Logger:      a.log,
			})
			rec := sharing.NewReconciler(ctrl, st, a.log)
			rec.Start(ctx)
			defer rec.Stop()

			client := remote.NewClient(a.log)
			checker := remote.NewChecker(client, reg, machineID, a.log)
			mon := remote.NewMonitor(checker, reg, time.Duration(a.cfg.HealthInterval)*time.Second, a.log)
			mon.Start(ctx)
			defer mon.Stop()

			// SIGHUP forces a health sweep, e.g. after editing connections
			// from another terminal.
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for range hup {
					a.log.Info().Msg("refreshing peer health")
					mon.Refresh()
				}
			}()

			snap := st.Snapshot()
			if share || snap.SharingEnabled {
				p := port
				if p == 0 {
					p = a.cfg.SharePort
				}
				if p == 0 {
					p = snap.SharingPort
				}
				pw := password
				if pw == "" {
					pw = snap.SharingPassword
				}
				if pw == "" && a.cfg.SharePassword != "" {
					pw = a.cfg.SharePassword
				}
				if err := ctrl.Start(p, pw); err != nil {
					a.log.Error().Err(err).Msg("sharing server failed to start")
				}
			}
			defer ctrl.Stop()

			a.log.Info().
				Str("version", version).
				Str("data_dir", a.dataDir).
				Str("models_dir", a.modelsDir).
				Msg("typrd running")

			<-ctx.Done()
			a.log.Info().Msg("shutting down")
			return nil
		},
	}
	cmd.Flags().BoolVar(&share, "share", false, "start the sharing server even if not enabled in settings")
	cmd.Flags().IntVar(&port, "port", 0, "sharing port (default: last used or 47842)")
	cmd.Flags().StringVar(&password, "password", "", "sharing password (empty disables auth)")
	cmd.Flags().StringVar(&name, "name", "", "display name advertised to peers")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query the local daemon's sharing endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := settings.Open(a.dataDir)
			if err != nil {
				return err
			}
			snap := st.Snapshot()
			if !snap.SharingEnabled {
				fmt.Println("sharing: disabled")
				return nil
			}
			client := remote.NewClient(a.log)
			status, err := client.TestConnection(cmd.Context(), "127.0.0.1", snap.SharingPort, snap.SharingPassword)
			if err != nil {
				return fmt.Errorf("sharing is enabled but the endpoint did not answer: %w", err)
			}
			out, _ := json.MarshalIndent(status, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func newConnectionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manage saved remote transcription servers",
	}
	cmd.AddCommand(newConnectionsListCmd(a))
	cmd.AddCommand(newConnectionsAddCmd(a))
	cmd.AddCommand(newConnectionsRemoveCmd(a))
	cmd.AddCommand(newConnectionsTestCmd(a))
	cmd.AddCommand(newConnectionsSelectCmd(a))
	return cmd
}

func newConnectionsSelectCmd(a *app) *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "select [id]",
		Short: "Use a saved connection as the transcription source (--clear for the local model)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := settings.Open(a.dataDir)
			if err != nil {
				return err
			}
			reg, err := registry.Open(a.dataDir)
			if err != nil {
				return err
			}
			defer reg.Close()
			router := remote.NewRouter(remote.NewClient(a.log), reg, st, a.log)
			if clear {
				if err := router.Select(""); err != nil {
					return err
				}
				fmt.Println("using the local model")
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("connection id required (or --clear)")
			}
			if err := router.Select(args[0]); err != nil {
				return err
			}
			fmt.Printf("transcribing via %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the remote selection")
	return cmd
}

func newTranscribeCmd(a *app) *cobra.Command {
	var (
		connectionID string
		durationSec  int
		live         bool
	)
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Send an audio file to the selected (or given) remote server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audio, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			st, err := settings.Open(a.dataDir)
			if err != nil {
				return err
			}
			reg, err := registry.Open(a.dataDir)
			if err != nil {
				return err
			}
			defer reg.Close()

			source := types.SourceUpload
			if live {
				source = types.SourceLiveRecording
			}
			opts := remote.TranscribeOptions{
				Source:        source,
				AudioDuration: time.Duration(durationSec) * time.Second,
				ContentType:   contentTypeForFile(args[0]),
			}
			router := remote.NewRouter(remote.NewClient(a.log), reg, st, a.log)
			var out *types.TranscribeResponse
			if connectionID != "" {
				out, err = router.Transcribe(cmd.Context(), connectionID, audio, opts)
			} else {
				out, err = router.TranscribeActive(cmd.Context(), audio, opts)
			}
			if err != nil {
				return err
			}
			fmt.Println(out.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&connectionID, "connection", "", "connection id (default: the active selection)")
	cmd.Flags().IntVar(&durationSec, "duration", 0, "audio duration in seconds, used for the request deadline")
	cmd.Flags().BoolVar(&live, "live", false, "treat the audio as a live recording instead of an upload")
	return cmd
}

// contentTypeForFile guesses the audio content type from the extension.
func contentTypeForFile(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); strings.HasPrefix(ct, "audio/") {
		return ct
	}
	return "audio/wav"
}

func newConnectionsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved connections with their last known health",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Open(a.dataDir)
			if err != nil {
				return err
			}
			defer reg.Close()
			conns, err := reg.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tADDRESS\tSTATUS\tMODEL\tLAST CHECK")
			for _, c := range conns {
				last := "never"
				if c.LastCheckedAt > 0 {
					last = time.UnixMilli(c.LastCheckedAt).Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					c.ID, c.Label(), c.Address(), c.CachedStatus, c.CachedModel, last)
			}
			return w.Flush()
		},
	}
}

func newConnectionsAddCmd(a *app) *cobra.Command {
	var (
		password string
		name     string
	)
	cmd := &cobra.Command{
		Use:   "add <host> <port>",
		Short: "Save a remote server (re-adding the same address updates it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid port %q", args[1])
			}
			reg, err := registry.Open(a.dataDir)
			if err != nil {
				return err
			}
			defer reg.Close()
			conn, err := reg.Add(args[0], port, password, name)
			if err != nil {
				return err
			}
			// Probe immediately so the saved entry starts with real health
			// instead of waiting for the next background sweep. An
			// unreachable peer is still saved.
			checker := remote.NewChecker(remote.NewClient(a.log), reg, a.machineID(), a.log)
			status := checker.CheckStatus(cmd.Context(), conn.ID)
			fmt.Printf("saved %s (%s), status: %s\n", conn.Label(), conn.ID, status)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password for the remote server")
	cmd.Flags().StringVar(&name, "name", "", "display name for this connection")
	return cmd
}

func newConnectionsRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a saved connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Open(a.dataDir)
			if err != nil {
				return err
			}
			defer reg.Close()
			if err := reg.Remove(args[0]); err != nil {
				return err
			}
			fmt.Println("removed")
			return nil
		},
	}
}

func newConnectionsTestCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "test <host> <port>",
		Short: "Probe a server without saving it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid port %q", args[1])
			}
			client := remote.NewClient(a.log)
			status, err := client.TestConnection(cmd.Context(), args[0], port, password)
			switch {
			case err == nil:
				fmt.Printf("online: %s serving %s (version %s)\n", status.Name, status.Model, status.Version)
				if status.MachineID == a.machineID() {
					fmt.Println("note: this is the local machine")
				}
				return nil
			case remote.IsUnauthorized(err):
				return fmt.Errorf("server reachable but the password was rejected")
			case remote.IsUnreachable(err):
				return fmt.Errorf("server unreachable: %w", err)
			default:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password to present")
	return cmd
}
