package main

import (
	"context"

	"pkt.systems/groundstation/internal/appconfig"
	"pkt.systems/groundstation/internal/identity"
	"pkt.systems/groundstation/internal/kv"
	"pkt.systems/pslog"
)

// localStores opens the persistent client store and the session store the
// terminal commands share.
func localStores(cfg appconfig.ViewerConfig) (kv.Store, kv.Store, error) {
	persistent, err := kv.Open(cfg.StoreBackend, cfg.StorePath)
	if err != nil {
		return nil, nil, err
	}
	session, err := kv.Open("file", cfg.SessionPath)
	if err != nil {
		return nil, nil, err
	}
	return persistent, session, nil
}

func localIdentity(ctx context.Context, cfg appconfig.ViewerConfig) (*identity.Provider, kv.Store, error) {
	persistent, session, err := localStores(cfg)
	if err != nil {
		return nil, nil, err
	}
	provider, err := identity.New(persistent, session, identity.WithLogger(pslog.Ctx(ctx)))
	if err != nil {
		return nil, nil, err
	}
	return provider, persistent, nil
}

func closeStore(store kv.Store) {
	if closer, ok := store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
