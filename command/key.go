package command

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"

	"github.com/cirocosta/rootstrap/keyring"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

type keyCommand struct {
	Rootfs    string `long:"rootfs"     required:"true" description:"rootfs whose apt keyring gets the keys"`
	Name      string `long:"name"       default:"rootstrap.gpg" description:"name of the keyring under etc/apt/trusted.gpg.d"`
	LocalRepo string `long:"local-repo" description:"local repository whose GPGKEY gets trusted"`
	List      bool   `long:"list"       description:"only list the keys of the keyring"`
}

func downloadKeys(ctx context.Context, locations []string) (keys [][]byte, err error) {
	var eg *errgroup.Group

	eg, ctx = errgroup.WithContext(ctx)
	keys = make([][]byte, len(locations))

	for idx, location := range locations {
		idx, location := idx, location

		eg.Go(func() (err error) {
			rc, err := keyring.Open(ctx, location)
			if err != nil {
				return
			}

			defer rc.Close()

			keys[idx], err = ioutil.ReadAll(rc)
			return
		})
	}

	err = eg.Wait()
	if err != nil {
		err = errors.Wrapf(err,
			"failed retrieving public keys")
		return
	}

	return
}

func (c *keyCommand) Execute(args []string) (err error) {
	var installed []keyring.Key

	switch {
	case c.List:
		installed, err = keyring.List(keyring.Path(c.Rootfs, c.Name))
	case c.LocalRepo != "":
		installed, err = keyring.InstallLocalRepo(c.LocalRepo, c.Rootfs, c.Name)
	case len(args) > 0:
		var keys [][]byte

		keys, err = downloadKeys(context.TODO(), args)
		if err != nil {
			return
		}

		for _, key := range keys {
			installed, err = keyring.Install(c.Rootfs, c.Name, bytes.NewReader(key))
			if err != nil {
				return
			}
		}
	default:
		err = errors.Errorf("no key to add (pass locations or --local-repo)")
	}

	if err != nil {
		return
	}

	b, err := yaml.Marshal(installed)
	if err != nil {
		return
	}

	fmt.Printf("%s", string(b))
	return
}
