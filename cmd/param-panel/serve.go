package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/param-go/param/pkg/declfile"
	"github.com/param-go/param/pkg/filestore"
	"github.com/param-go/param/pkg/param"
	"github.com/param-go/param/pkg/web"
)

func serveCmd() *cobra.Command {
	var (
		addr     string
		declPath string
		filesDir string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the panel server",
		Long: `Start the panel server.

Without --decl, a built-in demo class is served. With --decl, every
class in the YAML declaration file becomes a root instance in each
session, with a panel generated per class.

Examples:
  param-panel serve
  param-panel serve --addr=:9000 --decl=classes.yaml
  param-panel serve --files=/var/lib/param/uploads`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, declPath, filesDir, logLevel)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8686", "Listen address")
	cmd.Flags().StringVarP(&declPath, "decl", "d", "", "YAML class declaration file")
	cmd.Flags().StringVarP(&filesDir, "files", "f", "", "Directory for file-reference uploads")
	cmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func runServe(addr, declPath, filesDir, logLevel string) error {
	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var roots []web.Root
	if declPath != "" {
		classes, err := declfile.LoadFile(declPath)
		if err != nil {
			return err
		}
		for _, c := range classes {
			roots = append(roots, web.Root{
				Name:  strings.ToLower(c.Name()),
				Class: c,
			})
		}
		logger.Info("loaded class declarations", "path", declPath, "classes", len(classes))
	} else {
		roots = []web.Root{{
			Name:  "demo",
			Class: demoClass(),
			Query: map[string]string{"gain": "gain", "mode": "mode"},
		}}
		logger.Info("serving built-in demo class")
	}

	config := &web.Config{
		Address: addr,
		Roots:   roots,
		Logger:  logger,
	}

	if filesDir != "" {
		store, err := filestore.NewDiskStore(filesDir, 10<<20)
		if err != nil {
			return err
		}
		config.Files = store
	}

	return web.New(config).Run()
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// demoClass is the class served when no declaration file is given.
func demoClass() *param.Class {
	return param.MustClass("Demo", nil,
		param.Attr("title", param.String, param.Default("untitled run"),
			param.Doc("Display name for this run.")),
		param.Attr("gain", param.Number, param.Default(2.0),
			param.Bounded(0, 10), param.Step(0.1),
			param.Doc("Output gain.")),
		param.Attr("count", param.Integer, param.Default(4),
			param.BoundedBy(param.AtLeast(0)),
			param.Doc("Number of workers.")),
		param.Attr("mode", param.Selector, param.Default("fast"),
			param.Choices("fast", "slow", "batch"),
			param.Doc("Processing mode.")),
		param.Attr("window", param.Range, param.Default(param.Span{Lo: 2, Hi: 8}),
			param.Bounded(0, 10),
			param.Doc("Active sample window.")),
		param.Attr("enabled", param.Boolean, param.Default(true)),
	)
}
