package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"

	"moneybook/internal/book"
	"moneybook/internal/cli"
	"moneybook/internal/log"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.SetupLogger(nil).Error("Invalid configuration",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(2)
	}
	logger := cli.SetupLogger(cfg)
	logger.Debug("Starting moneybook",
		log.FieldOperation, log.OpStartup,
		log.FieldBackend, cfg.DataBackend,
		log.FieldUserID, cfg.UserID)

	env := &cli.Env{
		Out:      os.Stdout,
		Err:      os.Stderr,
		Currency: cfg.Currency,
		Open: func(ctx context.Context) (*book.Book, error) {
			return book.Open(ctx, cfg, book.WithLogger(logger))
		},
	}

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	for group, cmds := range cli.Commands() {
		for _, c := range cmds {
			commander.Register(c, group)
		}
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background(), env)))
}
