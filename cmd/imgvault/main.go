package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/manash/imgvault/internal/config"
	"github.com/manash/imgvault/internal/gallery"
	"github.com/manash/imgvault/internal/logger"
	"github.com/manash/imgvault/internal/metrics"
	"github.com/manash/imgvault/internal/provider"
	"github.com/manash/imgvault/internal/server"
	"github.com/manash/imgvault/internal/state"
	"github.com/manash/imgvault/internal/store"
	"github.com/manash/imgvault/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagConfig      string
	flagDBPath      string
	flagListen      string
	flagEndpoint    string
	flagModel       string
	flagSize        string
	flagQuality     string
	flagFormat      string
	flagTransparent bool
	flagAll         bool
)

type App struct {
	Out         io.Writer
	Err         io.Writer
	GetEnv      func(string) string
	OpenStore   func(path string) (*store.Store, error)
	NewProvider func(cfg *provider.Config) (provider.Provider, error)
}

func DefaultApp() *App {
	return &App{
		Out:       os.Stdout,
		Err:       os.Stderr,
		GetEnv:    os.Getenv,
		OpenStore: openStore,
		NewProvider: func(cfg *provider.Config) (provider.Provider, error) {
			return provider.NewClient(cfg)
		},
	}
}

func openStore(path string) (*store.Store, error) {
	if path == "" {
		return store.Open()
	}
	return store.OpenPath(path)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imgvault",
		Short: "Local image-generation gallery with durable state",
		Long: `imgvault keeps a gallery of AI-generated images: prompts go to a
generation service, results land in three collections (images, edited images,
variations) that survive restarts through a local SQLite database.

Examples:
  imgvault serve
  imgvault generate "a sunset over mountains"
  imgvault list edited-images
  imgvault clear --all`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (defaults to platform config dir)")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "database path (defaults to ~/.imgvault/gallery.db)")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newGenerateCmd(app))
	cmd.AddCommand(newListCmd(app))
	cmd.AddCommand(newClearCmd(app))

	return cmd
}

func loadConfig(app *App) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if flagDBPath != "" {
		cfg.Storage.Path = flagDBPath
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Output: app.Err})
	return cfg, log, nil
}

// openGallery wires store, state and hydrator. An unavailable store is
// non-fatal: the gallery runs memory-only and the hydrator installs empty
// collections.
func openGallery(ctx context.Context, app *App, cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) (*state.State, *state.Hydrator, *store.Store, error) {
	var persister state.Persister
	var loader state.Loader

	st, err := app.OpenStore(cfg.Storage.Path)
	if err != nil {
		log.Warn().Err(err).Msg("durable store unavailable, running memory-only")
		st = nil
	} else {
		var gs metrics.GalleryStore = st
		if m != nil {
			gs = m.Instrument(st)
		}
		persister = gs
		loader = gs
	}

	appState := state.New(persister, log)
	hydrator := state.NewHydrator(appState, loader, log)
	if err := hydrator.Run(ctx); err != nil {
		// Collections stay empty; the session is still usable.
		log.Warn().Err(err).Msg("continuing with empty collections")
	}
	return appState, hydrator, st, nil
}

func newProvider(app *App, cfg *config.Config) (provider.Provider, error) {
	endpoint := flagEndpoint
	if endpoint == "" {
		endpoint = cfg.Provider.Endpoint
	}
	token := cfg.Provider.Token
	if token == "" {
		token = app.GetEnv("IMGVAULT_PROVIDER_TOKEN")
	}
	return app.NewProvider(&provider.Config{
		Endpoint:   endpoint,
		Token:      token,
		TimeoutSec: cfg.Provider.TimeoutSec,
	})
}

func generateOptions(cfg *config.Config) models.GenerateOptions {
	opts := models.NewGenerateOptions()
	opts.Model = flagModel
	if opts.Model == "" {
		opts.Model = cfg.Provider.Model
	}
	opts.Size = flagSize
	opts.Quality = flagQuality
	if flagFormat != "" {
		opts.Format = models.OutputFormat(flagFormat)
	}
	opts.Transparency = flagTransparent
	return opts
}

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gallery API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, log, err := loadConfig(app)
			if err != nil {
				return err
			}
			if flagListen != "" {
				cfg.Server.Listen = flagListen
			}

			prov, err := newProvider(app, cfg)
			if err != nil {
				return fmt.Errorf("failed to create provider: %w", err)
			}

			m := metrics.New()
			appState, hydrator, st, err := openGallery(ctx, app, cfg, log, m)
			if err != nil {
				return err
			}
			defer appState.Close()
			if st != nil {
				defer st.Close()
			}

			svc := gallery.NewService(appState, prov, models.DefaultRegistry(), log)
			srv := server.New(&server.Config{
				State:    appState,
				Gallery:  svc,
				Hydrator: hydrator,
				Metrics:  m.Handler(),
				Log:      log,
			})

			httpSrv := &http.Server{
				Addr:    cfg.Server.Listen,
				Handler: srv.Routes(),
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("listen", cfg.Server.Listen).Msg("gallery server started")
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := httpSrv.Shutdown(shutdownCtx); err != nil {
					return err
				}
				appState.Flush()
				return nil
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&flagListen, "listen", "l", "", "listen address (default 127.0.0.1:8480)")
	cmd.Flags().StringVar(&flagEndpoint, "endpoint", "", "generation service endpoint")

	return cmd
}

func newGenerateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate one image and add it to the gallery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, log, err := loadConfig(app)
			if err != nil {
				return err
			}

			prov, err := newProvider(app, cfg)
			if err != nil {
				return fmt.Errorf("failed to create provider: %w", err)
			}

			appState, _, st, err := openGallery(ctx, app, cfg, log, nil)
			if err != nil {
				return err
			}
			defer appState.Close()
			if st != nil {
				defer st.Close()
			}

			svc := gallery.NewService(appState, prov, models.DefaultRegistry(), log)

			fmt.Fprintf(app.Out, "Generating with %s...\n", cfg.Provider.Model)
			rec, err := svc.Generate(ctx, args[0], generateOptions(cfg))
			if err != nil {
				return err
			}

			appState.Flush()

			fmt.Fprintf(app.Out, "Added %s\n", rec.ID)
			if rec.RevisedPrompt != "" {
				fmt.Fprintf(app.Out, "Revised prompt: %s\n", rec.RevisedPrompt)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagEndpoint, "endpoint", "", "generation service endpoint")
	cmd.Flags().StringVarP(&flagModel, "model", "m", "", "model to use")
	cmd.Flags().StringVarP(&flagSize, "size", "s", "", "image size (e.g., 1024x1024)")
	cmd.Flags().StringVarP(&flagQuality, "quality", "q", "", "quality level")
	cmd.Flags().StringVarP(&flagFormat, "format", "f", "", "output format (png, jpeg, webp)")
	cmd.Flags().BoolVarP(&flagTransparent, "transparent", "t", false, "transparent background")

	return cmd
}

func collectionArg(args []string) (models.Collection, error) {
	if len(args) == 0 {
		return models.CollectionImages, nil
	}
	switch args[0] {
	case "images":
		return models.CollectionImages, nil
	case "edited-images":
		return models.CollectionEdited, nil
	case "variations":
		return models.CollectionVariations, nil
	default:
		return "", fmt.Errorf("unknown collection %q: use images, edited-images or variations", args[0])
	}
}

func newListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list [collection]",
		Short: "List stored records in a collection",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := collectionArg(args)
			if err != nil {
				return err
			}

			cfg, _, err := loadConfig(app)
			if err != nil {
				return err
			}

			st, err := app.OpenStore(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.LoadCollection(cmd.Context(), col)
			if err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Fprintf(app.Out, "No records in %s\n", col)
				return nil
			}

			for _, rec := range records {
				fmt.Fprintf(app.Out, "%s  %s  %q\n", rec.ID, humanize.Time(rec.CreatedAt), rec.Prompt)
			}
			return nil
		},
	}
}

func newClearCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear [collection]",
		Short: "Empty a collection (or all with --all)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(app)
			if err != nil {
				return err
			}

			st, err := app.OpenStore(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			if flagAll {
				err := st.ClearAll(cmd.Context())
				var partial *store.PartialClearError
				if errors.As(err, &partial) {
					for col, clearErr := range partial.Failed {
						fmt.Fprintf(app.Err, "failed to clear %s: %v\n", col, clearErr)
					}
					return errors.New("some collections were not cleared, re-run to retry")
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(app.Out, "Cleared all collections")
				return nil
			}

			col, err := collectionArg(args)
			if err != nil {
				return err
			}
			if err := st.ClearCollection(cmd.Context(), col); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Cleared %s\n", col)
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagAll, "all", false, "clear every collection")

	return cmd
}
