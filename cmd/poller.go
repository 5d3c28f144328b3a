// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

// poller issues one request per interval over a session. A request that runs
// long delays the next one rather than overlapping it.
type poller struct {
	sess    *bmsproto.Session
	command bmsproto.Command
	limiter *rate.Limiter
}

func newPoller(sess *bmsproto.Session, interval time.Duration) *poller {
	return &poller{
		sess:    sess,
		command: sess.Schema().DefaultCommand,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Run polls until ctx is done or the session closes. onResult is called
// after every request on the polling goroutine.
func (p *poller) Run(ctx context.Context, onResult func(*bmsproto.Sample, error)) error {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			// The next slot lies past ctx's deadline
			<-ctx.Done()
			return ctx.Err()
		}

		sample, err := p.sess.Request(ctx, p.command)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, bmsproto.ErrSessionClosed) {
			return err
		}
		onResult(sample, err)
	}
}
