package service

import (
	"context"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/signbridge/signaling-server/pkg/variables"
	"go.uber.org/fx"
)

type database_Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Logger    *slog.Logger
}

func database(params database_Params) (*badger.DB, error) {
	dir := variables.Env(variables.BADGER_DIR_NAME, variables.BADGER_DIR_DEFAULT)

	options := badger.DefaultOptions(dir)
	options.Logger = nil

	db, err := badger.Open(options)
	if err != nil {
		return nil, err
	}
	params.Logger.Info("badger opened", slog.String("dir", dir))

	params.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

var DatabaseModule = fx.Module("database", fx.Provide(
	database,
))
