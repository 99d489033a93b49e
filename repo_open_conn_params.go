package wsrpc

import (
	"context"
	"net/url"
)

type (
	OpenConnectionParamsGetter func(ctx context.Context) (OpenConnectionParams, error)

	// OpenConnectionParamsRepo resolves the url and headers of each dial, so that
	// reconnections may pick up fresh credentials.
	OpenConnectionParamsRepo struct {
		logger Logger
		getter OpenConnectionParamsGetter
	}
)

func (r OpenConnectionParamsRepo) Get(
	ctx context.Context,
) (params OpenConnectionParams, err error) {
	params, err = r.getter(ctx)
	if err != nil {
		r.logger.Errorf("cannot fetch open connection params: %s", err)
	}
	return
}

func NewOpenConnectionParamsRepo(
	logger Logger,
	getter OpenConnectionParamsGetter,
) OpenConnectionParamsRepo {
	return OpenConnectionParamsRepo{getter: getter, logger: orNop(logger)}
}

// StaticOpenConnectionParams always dials u with no extra headers.
func StaticOpenConnectionParams(logger Logger, u url.URL) OpenConnectionParamsRepo {
	return NewOpenConnectionParamsRepo(logger, func(context.Context) (OpenConnectionParams, error) {
		return OpenConnectionParams{URL: u}, nil
	})
}
