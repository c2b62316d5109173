package telemetry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ErrLinkLost is returned by Reader.Run when the device stream ends.
var ErrLinkLost = errors.New("telemetry: device link lost")

// Reader drains a line stream into a Router. It is the table's only writer.
type Reader struct {
	src    io.Reader
	router *Router
	log    *zap.SugaredLogger
}

func NewReader(src io.Reader, router *Router, log *zap.SugaredLogger) *Reader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reader{src: src, router: router, log: log}
}

// Run ingests lines until ctx is canceled or the stream fails. A stream that
// ends or errors yields an error wrapping ErrLinkLost.
func (r *Reader) Run(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		sc := bufio.NewScanner(r.src)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		errc <- err
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-lines:
			r.router.Ingest(line)
		case err := <-errc:
			r.log.Errorw("telemetry_link_lost", "err", err)
			return fmt.Errorf("%w: %w", ErrLinkLost, err)
		}
	}
}
