package main

import (
	"github.com/c0deZ3R0/go-order-kit/storage/sqlite"
)

func (a *app) openStore(dsn string) (*sqlite.Store, error) {
	return sqlite.New(&sqlite.Config{
		DataSourceName: dsn,
		EnableWAL:      true,
		Alphabet:       a.alphabet,
		Logger:         a.logger,
	})
}
