package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	"chunk-relay/queue"
	"chunk-relay/transfer"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(id string, status transfer.Status, msg string) ResultMsg {
	return ResultMsg{Record: transfer.ResultRecord{SessionID: id, FileName: id + ".pdf", Status: status, Message: msg}}
}

func TestParseProgress(t *testing.T) {
	pct, ok := ParseProgress("progress: 42.5%")
	require.True(t, ok)
	assert.InDelta(t, 42.5, pct, 0.001)

	_, ok = ParseProgress("File successfully processed and saved")
	assert.False(t, ok)
}

func TestDashboard_AppliesResults(t *testing.T) {
	m := NewDashboardModel(nil, 100, 30)

	m, _ = m.Update(result("aaaa", transfer.StatusInProgress, "progress: 50.0%"))
	m, _ = m.Update(result("bbbb", transfer.StatusFailed, "Session timed out due to inactivity"))
	m, _ = m.Update(result("aaaa", transfer.StatusCompleted, "File successfully processed and saved"))
	m, _ = m.Update(result("aaaa", transfer.StatusInProgress, "progress: 50.0%"))

	require.Len(t, m.Order, 2)
	a := m.Sessions["aaaa"]
	assert.Equal(t, transfer.StatusCompleted, a.Status)
	assert.InDelta(t, 100, a.Percent, 0.001)
	assert.Len(t, m.Table.Rows(), 2)
	assert.Equal(t, "aaaa", m.Selected().SessionID)
	assert.Contains(t, m.View(), "aaaa.pdf")
}

func TestDashboard_ClearFinished(t *testing.T) {
	m := NewDashboardModel(nil, 100, 30)
	m, _ = m.Update(result("aaaa", transfer.StatusInProgress, "progress: 10.0%"))
	m, _ = m.Update(result("bbbb", transfer.StatusCompleted, "done"))
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})

	assert.Equal(t, []string{"aaaa"}, m.Order)
	assert.Len(t, m.Table.Rows(), 1)
}

func TestFeed_ReadsAndAcksResults(t *testing.T) {
	ctx := context.Background()
	transport := queue.NewMemory(time.Second)
	body, err := transfer.EncodeResult(transfer.ResultRecord{SessionID: "s1", FileName: "a.pdf", Status: transfer.StatusCompleted})
	require.NoError(t, err)
	require.NoError(t, transport.Send(ctx, queue.TopicResults, "r1", body, time.Minute))

	feed := NewFeed(ctx, transport, 10*time.Millisecond)
	msg := feed.Next()()
	res, ok := msg.(ResultMsg)
	require.True(t, ok)
	assert.Equal(t, "s1", res.Record.SessionID)
	assert.Equal(t, 0, transport.Pending(queue.TopicResults))

	_, idle := feed.Next()().(idleMsg)
	assert.True(t, idle)
}

type ackFailing struct {
	*queue.Memory
}

func (a ackFailing) Ack(context.Context, *queue.Message) error {
	return errors.New("ack refused")
}

func TestFeed_AckFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	transport := ackFailing{queue.NewMemory(time.Second)}
	body, err := transfer.EncodeResult(transfer.ResultRecord{SessionID: "s1", Status: transfer.StatusFailed})
	require.NoError(t, err)
	require.NoError(t, transport.Send(ctx, queue.TopicResults, "r1", body, time.Minute))

	msg := NewFeed(ctx, transport, 10*time.Millisecond).Next()()
	e, ok := msg.(errMsg)
	require.True(t, ok)
	assert.ErrorContains(t, e, "ack refused")

	m := NewDashboardModel(nil, 100, 30)
	m, cmd := m.Update(msg)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "ack refused")
}
