package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_sessions",
		Help: "Sessions currently joined to a room.",
	})
	roomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_rooms_created_total",
		Help: "Rooms created since start.",
	})
	fanoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_fanout_total",
		Help: "Frames offered to member outboxes by result.",
	}, []string{"result"})
	droppedFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_inbound_dropped_total",
		Help: "Inbound frames dropped by reason.",
	}, []string{"reason"})
	closesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_connection_closes_total",
		Help: "Closed connections by close kind.",
	}, []string{"kind"})
)
