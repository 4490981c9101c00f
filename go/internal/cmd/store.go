package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kritsadaz/sketchduel/go/internal/config"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore/memstore"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore/natsstore"
	"github.com/kritsadaz/sketchduel/go/internal/roomstore/pgstore"
)

// setupStore builds the selected room store backend and returns a
// cleanup function releasing its connections.
func setupStore(cfg config.Config) (roomstore.Store, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch cfg.Store {
	case "memory":
		return memstore.New(), func() {}, nil

	case "nats":
		nc, js, err := natsstore.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		store, err := natsstore.New(ctx, js)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return store, nc.Close, nil

	case "postgres":
		store, err := pgstore.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}
