package ethvault

import (
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	vcommon "github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
)

// subscription decodes raw logs and relays the transport error of the inner subscription.
type subscription struct {
	inner ethereum.Subscription
	errCh chan error
	quit  chan struct{}
	once  sync.Once
}

func (s *subscription) forward(raw <-chan types.Log, sink chan<- interfaces.VaultLog, decoder *Decoder, logger *vcommon.Logger) {
	for {
		select {
		case <-s.quit:
			return
		case err, ok := <-s.inner.Err():
			if !ok {
				return
			}
			s.errCh <- errors.WithStack(err)
			return
		case l := <-raw:
			if l.Removed {
				logger.Warn().Str("tx", l.TxHash.Hex()).Msg("Ignoring log removed by chain reorg")
				continue
			}
			decoded, err := decoder.Decode(l)
			if err != nil {
				logger.Warn().Err(err).Str("tx", l.TxHash.Hex()).Msg("Failed to decode vault log")
				continue
			}
			select {
			case sink <- decoded:
			case <-s.quit:
				return
			}
		}
	}
}

func (s *subscription) Err() <-chan error {
	return s.errCh
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.inner.Unsubscribe()
		close(s.quit)
	})
}
