package prometheus

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/peeractor/core/actor"
	"github.com/codewandler/peeractor/core/comm"
)

func gatherNames(t *testing.T, reg *prometheus.Registry) map[string]bool {
	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewActorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewActorMetrics(reg)
	require.NotNil(t, m)

	timer := m.MessageDuration("echo")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.MessageProcessed("echo", true)
	m.MessageProcessed("echo", false)
	m.MessagePanic("echo")
	m.HandlerNotFound("ping")
	m.ResponseDropped()
	m.InboundDepth(10)
	m.HandlersInflight(3)
	m.SchedulerInflight(5)

	timer = m.SchedulerTaskDuration()
	assert.NotNil(t, timer)
	timer.ObserveDuration()
	m.SchedulerTaskCompleted(true)

	names := gatherNames(t, reg)
	assert.True(t, names["peeractor_actor_message_duration_seconds"])
	assert.True(t, names["peeractor_actor_messages_total"])
	assert.True(t, names["peeractor_actor_inbound_depth"])
	assert.True(t, names["peeractor_actor_handler_not_found_total"])
}

func TestNewCommMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCommMetrics(reg)
	require.NotNil(t, m)

	timer := m.RequestDuration("echo")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.RequestCompleted("echo", true)
	m.InboundAccepted("echo")
	m.InboundRejected(comm.FailureInboundFull)
	m.ResponseDropped()
	m.PeersConnected(2)
	m.HandshakeFailed()

	names := gatherNames(t, reg)
	assert.True(t, names["peeractor_comm_request_duration_seconds"])
	assert.True(t, names["peeractor_comm_inbound_rejected_total"])
	assert.True(t, names["peeractor_comm_peers_connected"])
}

func TestMetrics_Wired(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllMetrics(reg)

	tr := comm.CreateMemoryTransport(t)
	server := actor.CreateTestActor(t, tr, func(b *actor.Builder) {
		b.WithMetrics(m.Actor).WithCommOptions(comm.WithMetrics(m.Comm))
	})
	server.HandleFunc("echo", func(hc actor.HandlerCtx, msg actor.NamedMessage) (actor.NamedMessage, error) {
		return msg, nil
	})
	client := actor.CreateTestActor(t, tr)
	peer := actor.ConnectTestActors(t, client, server)

	_, err := client.Send(t.Context(), peer, actor.NamedMessage{Name: "echo"})
	require.NoError(t, err)
	_, err = client.Send(t.Context(), peer, actor.NamedMessage{Name: "ping"})
	require.ErrorIs(t, err, actor.ErrHandlerNotFound)

	require.NoError(t, server.Shutdown(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Actor.messagesTotal.WithLabelValues("echo", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Actor.notFoundTotal.WithLabelValues("ping")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Comm.inboundAccepted.WithLabelValues("echo"))+
		testutil.ToFloat64(m.Comm.inboundAccepted.WithLabelValues("ping")))
}

func TestBoolToStr(t *testing.T) {
	assert.Equal(t, "true", boolToStr(true))
	assert.Equal(t, "false", boolToStr(false))
}
