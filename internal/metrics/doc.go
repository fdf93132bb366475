// Package metrics aggregates the events produced by simulated wallets.
//
// Every measurement is an [Event]: either a counter increment or a latency
// sample in milliseconds. Producers only depend on the [Sink] interface, so
// the same stream can feed several consumers at once through [Tee].
//
// # Aggregator
//
// [Aggregator] keeps counters and hdrhistogram-backed latency series behind
// sharded locks. Writers never block each other for long, and
// [Aggregator.Snapshot] merges the shards into a [Snapshot]:
//
//	agg := metrics.NewAggregator()
//	agg.Emit(metrics.Count("connection.success"))
//	agg.Emit(metrics.Duration("connection.duration", 120*time.Millisecond))
//
//	snap := agg.Snapshot()
//	p95 := snap.Histograms["connection.duration"].P95
//
// Taking a snapshot does not reset anything, so repeated calls with no new
// events return equal results.
//
// # Prometheus
//
// [PrometheusSink] mirrors the event stream into a counter vector and a
// histogram vector labelled by event name, for scraping while a run is in
// progress.
package metrics
