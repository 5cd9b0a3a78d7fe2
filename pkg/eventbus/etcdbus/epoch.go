package etcdbus

import (
	"context"
	"fmt"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
	"github.com/hanfei1991/minionbatch/pkg/jid"
)

const epochKeySuffix = ".epoch"

// EpochGenerator allocates job ids from the etcd revision, so ids are
// unique and increasing across every process sharing the cluster.
type EpochGenerator struct {
	bus      *Bus
	key      string
	timeout  time.Duration
	fallback jid.Generator
}

// NewEpochGenerator returns a generator bumping a key next to the
// event prefix. It falls back to timestamp ids when etcd cannot be
// reached.
func (b *Bus) NewEpochGenerator() *EpochGenerator {
	return &EpochGenerator{
		bus: b,
		// outside the watched prefix, connections never see it
		key:      b.cfg.Prefix + epochKeySuffix,
		timeout:  b.cfg.DialTimeout,
		fallback: jid.Default(),
	}
}

// GenerateEpoch bumps the epoch key and returns the new revision.
func (g *EpochGenerator) GenerateEpoch(ctx context.Context) (int64, error) {
	resp, err := g.bus.cli.Put(ctx, g.key, "")
	if err != nil {
		return 0, derrors.WrapError(derrors.ErrEtcdOpFail, err)
	}
	return resp.Header.Revision, nil
}

// NewJID implements jid.Generator.
func (g *EpochGenerator) NewJID() string {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	epoch, err := g.GenerateEpoch(ctx)
	if err != nil {
		log.L().Warn("allocate jid from etcd failed, using a timestamp jid", zap.Error(err))
		return g.fallback.NewJID()
	}
	return fmt.Sprintf("%020d", epoch)
}
