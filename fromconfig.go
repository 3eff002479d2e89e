package storefront

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/c0deZ3R0/go-storefront-sync/config"
	"github.com/c0deZ3R0/go-storefront-sync/identity"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
	"github.com/c0deZ3R0/go-storefront-sync/model"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
	"github.com/c0deZ3R0/go-storefront-sync/remote/firestore"
	"github.com/c0deZ3R0/go-storefront-sync/transport/rest"
	"github.com/c0deZ3R0/go-storefront-sync/transport/sse"
)

// FromConfig builds a Storefront from cfg: the remote store of cfg.Backend, Firebase
// authentication when a Firebase project is set, and the product change stream when
// cfg.API.Events is on. opts are applied last and override what cfg selects.
func FromConfig(ctx context.Context, cfg config.Config, opts ...Option) (*Storefront, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("storefront: %w", err)
	}
	o := defaultOptions()
	o.logger = logging.NewLogger(cfg.Log)
	o.shippingFee = model.NewPrice(cfg.Checkout.ShippingFee)
	for _, opt := range opts {
		opt(o)
	}
	log := o.logger.WithComponent("storefront")

	// The REST client reads the session token of the storefront it is about to serve.
	var sf *Storefront
	tokens := func(ctx context.Context) (string, error) { return sf.Token(ctx) }

	if o.store == nil {
		store, c, err := openStore(ctx, cfg, tokens, o.logger)
		if err != nil {
			return nil, err
		}
		o.store = store
		if c != nil {
			o.closers = append(o.closers, c)
		}
	}

	if o.auth == nil {
		if cfg.Firebase.Enabled() {
			auth, err := identity.NewFirebaseAuthenticator(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
			if err != nil {
				closeAll(o)
				return nil, err
			}
			o.auth = auth
			log.Info("firebase authentication enabled", slog.String("project", cfg.Firebase.ProjectID))
		} else {
			o.auth = identity.NewStaticAuthenticator(true)
			log.Warn("no firebase project configured, accepting email tokens")
		}
	}

	if o.subscriber == nil && cfg.API.Events && cfg.Backend == config.BackendREST {
		sub := sse.NewClient(cfg.API.BaseURL, nil)
		sub.Collections = []string{remote.Products}
		sub.Logger = o.logger.WithComponent("sse-client")
		o.subscriber = sub
	}

	sf = build(o)
	return sf, nil
}

func openStore(ctx context.Context, cfg config.Config, tokens rest.TokenSource, logger *logging.Logger) (remote.Store, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendFirestore:
		store, err := firestore.New(ctx, firestore.Config{
			ProjectID:       cfg.FirestoreProject(),
			CredentialsFile: cfg.Firestore.CredentialsFile,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		client, err := rest.NewClient(cfg.API.BaseURL,
			rest.WithClientTimeout(cfg.API.Timeout),
			rest.WithClientCompression(cfg.API.Gzip),
			rest.WithRetryConfig(cfg.API.RetryMax, cfg.API.RetryMin, cfg.API.RetryCap),
			rest.WithTokenSource(tokens),
			rest.WithLogger(logger.WithComponent("rest-client")))
		if err != nil {
			return nil, nil, err
		}
		return client, nil, nil
	}
}

func closeAll(o *options) {
	for _, c := range o.closers {
		_ = c.Close()
	}
}
