// Package dsstore implements the image, label and suggestion stores on top of
// go-datastore, for running the service without AWS.
//
// Each store owns a whole datastore. Keys are single path segments holding the
// base32 encoding of the record name, which keeps them valid for flatfs.
package dsstore

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("dsstore")

var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func toKey(name string) datastore.Key {
	return datastore.NewKey(keyEncoding.EncodeToString([]byte(name)))
}

func fromKey(k string) (string, error) {
	b, err := keyEncoding.DecodeString(strings.TrimPrefix(k, "/"))
	if err != nil {
		return "", fmt.Errorf("decoding datastore key %q: %w", k, err)
	}
	return string(b), nil
}

func get(ctx context.Context, ds datastore.Datastore, name string) ([]byte, error) {
	b, err := ds.Get(ctx, toKey(name))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, types.ErrKeyNotFound
		}
		return nil, err
	}
	return b, nil
}

// entries runs a query over the whole datastore and yields decoded names.
func entries(ctx context.Context, ds datastore.Datastore, keysOnly bool, yield func(name string, value []byte) error) error {
	results, err := ds.Query(ctx, query.Query{KeysOnly: keysOnly})
	if err != nil {
		return fmt.Errorf("querying datastore: %w", err)
	}
	defer results.Close()
	for r := range results.Next() {
		if r.Error != nil {
			return fmt.Errorf("iterating datastore: %w", r.Error)
		}
		name, err := fromKey(r.Key)
		if err != nil {
			log.Warnf("skipping entry: %s", err)
			continue
		}
		if err := yield(name, r.Value); err != nil {
			return err
		}
	}
	return nil
}
