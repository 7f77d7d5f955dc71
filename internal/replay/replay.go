package replay

import (
	"context"
	"errors"
	"io"

	"firestige.xyz/shredtap/internal/core/decoder"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/internal/plugin"
	"firestige.xyz/shredtap/internal/stats"
)

// Result summarizes a replay.
type Result struct {
	Datagrams      uint64
	Shreds         uint64
	Rejected       uint64
	Skipped        uint64 // frames that were not matching UDP datagrams
	DispatchErrors uint64
}

// Run decodes every datagram of src and dispatches shreds to runner, which
// must already be started. limit > 0 stops after that many shreds.
func Run(ctx context.Context, src *Source, dec decoder.Decoder, runner *plugin.Runner, limit int) (res Result, err error) {
	st := stats.New(stats.DefaultInterval, stats.WithLogger(log.GetLogger()))
	defer func() { res.Skipped = src.Skipped() }()

	for limit <= 0 || res.Shreds < uint64(limit) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		d, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
		res.Datagrams++
		st.Record()
		st.MaybeLog()

		shred, err := dec.Decode(d.Data)
		if err != nil {
			res.Rejected++
			st.Reject()
			continue
		}
		shred.Source = d.Source
		shred.ReceivedAt = d.ReceivedAt
		res.Shreds++
		if err := runner.Dispatch(ctx, &shred); err != nil {
			res.DispatchErrors++
		}
	}
	return res, nil
}
