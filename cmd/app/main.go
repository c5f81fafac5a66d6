package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/meetupwiki/internal"
	"github.com/starford/meetupwiki/internal/apperr"
	pkgconfig "github.com/starford/meetupwiki/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	path := cmd.String("config")
	read, err := pkgconfig.LoadIfExists(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !read {
		slog.Warn("config file not found, using defaults", slog.String("path", path))
	}
	return cfg, nil
}

// withApp wires the application with logs on logOut and runs fn.
func withApp(cmd *cli.Command, logOut io.Writer, fn func(app *internal.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := internal.NewApp(internal.WithConfig(cfg), internal.WithLogOutput(logOut))
	if err != nil {
		return fmt.Errorf("app init error: %w", err)
	}
	defer app.Close()
	return fn(app)
}

func sourceArg(cmd *cli.Command) (string, error) {
	uri := cmd.Args().First()
	if uri == "" {
		return "", errors.New("missing announcement source (URL or file path)")
	}
	return uri, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func publish(ctx context.Context, cmd *cli.Command) error {
	uri, err := sourceArg(cmd)
	if err != nil {
		return err
	}
	return withApp(cmd, os.Stderr, func(app *internal.App) error {
		out, err := app.Service.Publish(ctx, uri)
		if err != nil {
			return err
		}
		return printJSON(out)
	})
}

func preview(ctx context.Context, cmd *cli.Command) error {
	uri, err := sourceArg(cmd)
	if err != nil {
		return err
	}
	return withApp(cmd, os.Stderr, func(app *internal.App) error {
		_, md, html, err := app.Service.Preview(ctx, uri)
		if err != nil {
			return err
		}
		if cmd.Bool("html") {
			_, err = os.Stdout.Write(html)
		} else {
			_, err = os.Stdout.Write(md)
		}
		return err
	})
}

func status(_ context.Context, cmd *cli.Command) error {
	return withApp(cmd, os.Stderr, func(app *internal.App) error {
		st, err := app.Service.Status()
		if err != nil {
			if errors.Is(err, apperr.ErrPrecondition) {
				return fmt.Errorf("%w (run publish once to clone it)", err)
			}
			return err
		}
		return printJSON(st)
	})
}

func runs(ctx context.Context, cmd *cli.Command) error {
	return withApp(cmd, os.Stderr, func(app *internal.App) error {
		list, err := app.Service.Runs(ctx, int(cmd.Int("limit")))
		if err != nil {
			return err
		}
		return printJSON(list)
	})
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(_ context.Context, cmd *cli.Command) error {
	// stdout carries the protocol.
	return withApp(cmd, os.Stderr, func(app *internal.App) error {
		return app.MCP().ServeStdio()
	})
}

func main() {
	cmd := &cli.Command{
		Name:  "meetupwiki",
		Usage: "Publish meetup announcements as pages of a git-backed wiki",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "publish",
				Usage:     "Sync the wiki checkout, render the meetup page, update the index, commit and push",
				ArgsUsage: "<announcement-url-or-file>",
				Action:    publish,
			},
			{
				Name:      "preview",
				Usage:     "Render the meetup page without touching the checkout",
				ArgsUsage: "<announcement-url-or-file>",
				Action:    preview,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "html", Usage: "Print HTML instead of Markdown"},
				},
			},
			{
				Name:   "status",
				Usage:  "Show HEAD and cleanliness of the wiki checkout",
				Action: status,
			},
			{
				Name:   "runs",
				Usage:  "List recent publish runs",
				Action: runs,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum number of runs"},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with the optional scheduler and inbox watcher",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
