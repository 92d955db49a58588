// Package health reports the health of the dispatch runtime.
//
// A Checker reports one component; CapacityChecker turns a used/capacity
// reading into a status. An Aggregator runs checkers concurrently and
// Handler serves the combined result as JSON:
//
//	agg := health.NewAggregator()
//	agg.Register(manager.Checker())
//	agg.Register(health.NewCapacityChecker("dispatch", health.CapacityCheckerConfig{}, readBulkhead))
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg)
package health
