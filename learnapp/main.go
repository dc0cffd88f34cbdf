package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/api"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/backbone"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/config"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/constants"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/data"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/learning"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/logger"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/pipeline"
)

const shutdownTimeout = 5 * time.Second

func setup(c *cli.Context) (config.AppConfig, *zap.Logger, *data.Manager, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, nil, nil, err
	}

	l := logger.New(cfg.Debug)

	if !cfg.Database.Enabled {
		return cfg, l, nil, nil
	}

	m, err := data.New(cfg.Database.DSN, cfg.Database.Table, l)
	if err != nil {
		return cfg, l, nil, err
	}

	return cfg, l, m, nil
}

func train(c *cli.Context) error {
	cfg, l, m, err := setup(c)
	if err != nil {
		return err
	}
	defer l.Sync()
	if m != nil {
		defer m.Destroy()
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, cfg, pipeline.Options{
		Model:       c.String("model"),
		Description: c.String("desc"),
		ImagePath:   c.String("images"),
		ModelPath:   c.String("out"),
		Epochs:      c.Int("epochs"),
		Progress:    os.Stdout,
		Recorder:    m,
	}, l)
	if err != nil {
		return err
	}

	if last, ok := res.History.Last(); ok {
		fmt.Printf("model=%s epochs=%d steps=%d valid_acc=%.4f checkpoint=%s\n",
			res.Model, last.Epoch, res.History.Steps, last.ValidAcc, res.Checkpoint)
	}

	return nil
}

func serve(c *cli.Context) error {
	cfg, l, m, err := setup(c)
	if err != nil {
		return err
	}
	defer l.Sync()

	lrn := learning.New(learning.Config{
		App:      cfg,
		Recorder: m,
		Logger:   l,
	})

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), api.Logger(l))

	a := api.APIs{
		L: lrn,
		M: m,
	}
	a.Register(r)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		l.Info("Serving", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = server.Shutdown(sctx)
		cancel()
	}

	lrn.Destroy()
	if m != nil {
		m.Destroy()
	}

	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func initWeights(c *cli.Context) error {
	pre, err := backbone.NewProjection(backbone.ProjectionConfig{
		Grid:    c.Int("grid"),
		Dim:     c.Int("dim"),
		Outputs: c.Int("outputs"),
	}, rand.New(rand.NewSource(c.Int64("seed"))))
	if err != nil {
		return err
	}

	return backbone.SaveProjection(c.String("out"), pre)
}

func main() {
	app := &cli.App{
		Name:  "learnapp",
		Usage: "Fine-tune a pretrained image classifier",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"CFG_FILE"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "train",
				Aliases: []string{"t"},
				Usage:   "Run the fine-tuning pipeline once",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "model",
						Aliases: []string{"m"},
						Usage:   "Model `NAME`",
						Value:   constants.DefaultModelName,
					},
					&cli.StringFlag{
						Name:  "desc",
						Usage: "Model description",
					},
					&cli.StringFlag{
						Name:  "images",
						Usage: "Use images in `DIR` instead of downloading the dataset",
					},
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Export the trained model to `DIR`",
					},
					&cli.IntFlag{
						Name:        "epochs",
						Aliases:     []string{"e"},
						Usage:       "Override the number of `EPOCHS`",
						DefaultText: "from config",
					},
				},
				Action: func(c *cli.Context) error {
					return train(c)
				},
			},
			{
				Name:    "serve",
				Aliases: []string{"s"},
				Usage:   "Serve model learning requests",
				Action: func(c *cli.Context) error {
					return serve(c)
				},
			},
			{
				Name:  "init-weights",
				Usage: "Write random projection backbone weights",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Aliases:  []string{"o"},
						Usage:    "Weights `FILE`",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "grid",
						Usage: "Pooling grid size",
						Value: backbone.DefaultProjectionConfig.Grid,
					},
					&cli.IntFlag{
						Name:  "dim",
						Usage: "Feature dimension",
						Value: backbone.DefaultProjectionConfig.Dim,
					},
					&cli.IntFlag{
						Name:  "outputs",
						Usage: "Original head outputs",
						Value: backbone.DefaultProjectionConfig.Outputs,
					},
					&cli.Int64Flag{
						Name:  "seed",
						Usage: "Random seed",
						Value: constants.Seed,
					},
				},
				Action: func(c *cli.Context) error {
					return initWeights(c)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
