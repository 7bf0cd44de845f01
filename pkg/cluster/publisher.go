package cluster

import (
	"context"
	"time"

	"pitrdb/pkg/listener"
)

type iPublisher interface {
	Publish(self Member) error
}

// RunPublisher publishes self() every interval until ctx is done.
func RunPublisher(ctx context.Context, p iPublisher, interval time.Duration, self func() Member) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last Member
	job := listener.New(ticker.C, func(time.Time) error {
		m := self()
		if m == last {
			return nil
		}
		if err := p.Publish(m); err != nil {
			return err
		}
		last = m
		return nil
	})
	job.Start(ctx)

	<-ctx.Done()
	job.Stop()
	return nil
}
