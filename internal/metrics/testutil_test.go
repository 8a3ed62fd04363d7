package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testCounterValue(c prometheus.Counter) float64 {
	return testutil.ToFloat64(c)
}

func testGaugeValue(g prometheus.Gauge) float64 {
	return testutil.ToFloat64(g)
}
