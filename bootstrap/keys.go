package bootstrap

import (
	"context"
	"io/ioutil"

	"github.com/cirocosta/rootstrap/keyring"
	"github.com/pkg/errors"
)

func fetchKey(ctx context.Context, uri string) (content []byte, err error) {
	rc, err := keyring.Open(ctx, uri)
	if err != nil {
		return
	}

	defer rc.Close()

	content, err = ioutil.ReadAll(rc)
	if err != nil {
		err = errors.Wrapf(err, "failed reading key from %s", uri)
		return
	}

	return
}
