package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chunk-relay/queue"
	"chunk-relay/transfer"

	tea "github.com/charmbracelet/bubbletea"
)

// ResultMsg carries one result record read off the results topic.
type ResultMsg struct {
	Record transfer.ResultRecord
}

// idleMsg means the wait elapsed without a delivery.
type idleMsg struct{}

type errMsg error

// Feed reads result records for the dashboard.
type Feed struct {
	ctx       context.Context
	transport queue.Transport
	topic     string
	wait      time.Duration
}

func NewFeed(ctx context.Context, transport queue.Transport, wait time.Duration) *Feed {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Feed{ctx: ctx, transport: transport, topic: queue.TopicResults, wait: wait}
}

// Next returns a command that waits for the next result record.
func (f *Feed) Next() tea.Cmd {
	return func() tea.Msg {
		msg, err := f.transport.Receive(f.ctx, f.topic, f.wait)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || f.ctx.Err() != nil {
				return nil
			}
			return errMsg(err)
		}
		if msg == nil {
			return idleMsg{}
		}
		if err := f.transport.Ack(f.ctx, msg); err != nil {
			return errMsg(fmt.Errorf("ack result %s: %w", msg.ID, err))
		}
		rec, err := transfer.DecodeResult(msg.Body)
		if err != nil {
			return errMsg(err)
		}
		return ResultMsg{Record: rec}
	}
}
