// Package serve implements the command that runs the registry server.
package serve

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/wuxler/pincer/pkg/cmdhelper"
	"github.com/wuxler/pincer/pkg/commands/internal/options"
	"github.com/wuxler/pincer/pkg/mapping"
	"github.com/wuxler/pincer/pkg/pinning"
	"github.com/wuxler/pincer/pkg/registry"
	"github.com/wuxler/pincer/pkg/registry/uploads"
	"github.com/wuxler/pincer/pkg/storage"
	"github.com/wuxler/pincer/pkg/xlog"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// New creates a new Command.
func New() *Command {
	return NewCommand()
}

// NewCommand returns a command with default values.
func NewCommand() *Command {
	return &Command{
		Common:  options.NewCommonOptions(),
		Server:  options.NewServerOptions(),
		Storage: options.NewStorageOptions(),
		Backend: options.NewBackendOptions(),
		Log:     options.NewLogOptions(),
	}
}

// Command is the command to run the registry server.
type Command struct {
	Common  *options.CommonOptions
	Server  *options.ServerOptions
	Storage *options.StorageOptions
	Backend *options.BackendOptions
	Log     *options.LogOptions
}

// ToCLI transforms to a *cli.Command.
func (c *Command) ToCLI() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"server"},
		Usage:   "Run the registry server",
		UsageText: `pincer serve [OPTIONS]

# Start the registry with default port 5002
$ pincer serve

# Start with a custom port and storage location
$ pincer serve --port 5003 --storage-dir /var/lib/pincer

# Run local-only without remote pinning
$ pincer serve --disable-pinning
`,
		Flags:  c.Flags(),
		Before: cli.BeforeFunc(cmdhelper.NoArgs()),
		Action: c.Run,
	}
}

// Flags defines the flags related to the current command.
func (c *Command) Flags() []cli.Flag {
	flags := []cli.Flag{}
	flags = append(flags, c.Common.Flags()...)
	flags = append(flags, c.Server.Flags()...)
	flags = append(flags, c.Storage.Flags()...)
	flags = append(flags, c.Backend.Flags()...)
	flags = append(flags, c.Log.Flags()...)
	return flags
}

// Run is the main function for the current command.
func (c *Command) Run(ctx context.Context, cmd *cli.Command) error {
	logger, err := c.Log.NewLogger(c.Common.Debug)
	if err != nil {
		return err
	}
	xlog.SetDefault(logger)
	ctx = xlog.NewContext(ctx, logger)

	fsys := afero.NewOsFs()
	store, err := storage.NewFileStore(fsys, c.Storage.StorageDir)
	if err != nil {
		return err
	}
	index := mapping.NewIndex(fsys, c.Storage.MappingFile)
	if err := index.Load(); err != nil {
		if c.Storage.StrictMapping {
			return err
		}
		xlog.C(ctx).Warnf("mapping file %s is malformed, starting with an empty index: %v", index.Filename(), err)
	}

	sessions := uploads.NewTable(store, uploads.DefaultIdleTimeout)

	gateway, err := c.Backend.NewGateway()
	if err != nil {
		return err
	}
	resolver := storage.NewResolver(store, gateway)

	var (
		manager  *pinning.Manager
		pipeline *pinning.Pipeline
	)
	if c.Backend.DisablePinning {
		xlog.C(ctx).Infof("remote pinning disabled, pushed content stays local")
	} else {
		backend, err := c.Backend.NewBackend()
		if err != nil {
			return err
		}
		manager = pinning.NewManager(backend)
		pipeline = pinning.NewPipeline(manager, index)
	}

	server := registry.NewServer(index, store, resolver, sessions, registry.WithPipeline(pipeline))

	address := c.Server.Address()
	xlog.C(ctx).Infof("Starting registry %s", address)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	cmdhelper.Fprintf(cmd.Writer, "Registry started at http://%s", address)
	cmdhelper.Fprintf(cmd.Writer, "Press Ctrl+C to stop the server")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		xlog.C(ctx).Error("Server shutdown failed", "error", err)
		return err
	}
	if err := sessions.Close(); err != nil {
		xlog.C(ctx).Warn("Closing upload sessions failed", "error", err)
	}
	if pipeline != nil {
		// in-flight pins are abandoned; their content stays resolvable locally
		_ = pipeline.Close()
	}
	if manager != nil {
		if err := manager.Shutdown(shutdownCtx); err != nil {
			xlog.C(ctx).Warn("Backend teardown failed", "error", err)
		}
	}

	xlog.C(ctx).Info("Server stopped")
	return nil
}
