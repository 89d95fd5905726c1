package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairpad_keyspace_writes_total",
		Help: "Record writes applied to the shared keyspace.",
	}, []string{"backend"})

	deletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairpad_keyspace_deletes_total",
		Help: "Record deletes applied to the shared keyspace.",
	}, []string{"backend"})

	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairpad_keyspace_snapshots_total",
		Help: "Subtree snapshots fanned out to subscribers.",
	}, []string{"backend"})
)
