/*
Package stresstest benchmarks a single DynamicAPI operation.

# Executor Design

The Executor uses a worker pool pattern:
  - Fixed number of concurrent workers, optionally started over a ramp-up window
  - Request channel for work distribution
  - Result channel drained by one collector that owns the Stats
  - Context-based cancellation and an optional overall duration

Every request goes through the regular client, so URL building, processors
and security checks behave exactly as for a single call.

# Error Classification

Results are counted in one of three buckets:
  - Success: the call returned without error
  - Network error: no response at all (connection failure, timeout)
  - Validation error: anything else, such as a non-2xx status

# Statistics

Stats reports min, max, average and P50/P95/P99 latencies using linear
interpolation between the two nearest samples, plus throughput over the
wall time of the run.
*/
package stresstest
