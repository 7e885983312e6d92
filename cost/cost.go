package cost

import (
	"context"

	"go.uber.org/zap"

	"smctl/lib/endpoint"
)

// DefaultRate is charged for instance types missing from the table, so an
// incomplete table never blocks an estimate.
const DefaultRate = 2.0

// Table maps an instance type to its on-demand hourly rate. Rates are an
// external fact subject to change, so the table is injected rather than
// compiled into the estimator.
type Table map[string]float64

// DefaultTable returns US East 1 hourly rates for the GPU instance types the
// deploy path supports.
func DefaultTable() Table {
	return Table{
		"ml.g4dn.xlarge":  0.736,
		"ml.g4dn.2xlarge": 0.94,
		"ml.g4dn.4xlarge": 1.505,
		"ml.g5.xlarge":    1.408,
		"ml.g5.2xlarge":   1.515,
		"ml.g5.4xlarge":   2.03,
		"ml.g5.8xlarge":   3.06,
		"ml.p3.2xlarge":   3.825,
		"ml.p3.8xlarge":   14.688,
		"ml.p3.16xlarge":  28.152,
	}
}

func (t Table) Rate(instanceType string) float64 {
	if rate, ok := t[instanceType]; ok {
		return rate
	}
	return DefaultRate
}

// EndpointCost is the per-endpoint breakdown of an estimate. CostUnknown is
// set when the endpoint's config could not be described; such endpoints are
// excluded from the totals.
type EndpointCost struct {
	EndpointName string
	Variants     []endpoint.Variant
	Hourly       float64
	CostUnknown  bool
}

type Estimate struct {
	Endpoints    []EndpointCost
	TotalHourly  float64
	TotalDaily   float64
	TotalMonthly float64
}

const (
	hoursPerDay  = 24
	daysPerMonth = 30
)

// FromConfigs computes an estimate over a set of endpoint configs. Pure:
// same configs and table always produce the same estimate.
func FromConfigs(table Table, configs []endpoint.Config) Estimate {
	est := Estimate{Endpoints: make([]EndpointCost, 0, len(configs))}
	for _, cfg := range configs {
		var hourly float64
		for _, v := range cfg.Variants {
			hourly += table.Rate(v.InstanceType) * float64(v.InstanceCount)
		}
		est.Endpoints = append(est.Endpoints, EndpointCost{
			EndpointName: cfg.Name,
			Variants:     cfg.Variants,
			Hourly:       hourly,
		})
		est.TotalHourly += hourly
	}
	est.TotalDaily = est.TotalHourly * hoursPerDay
	est.TotalMonthly = est.TotalDaily * daysPerMonth
	return est
}

// EstimateLive aggregates the running cost of all InService endpoints. An
// endpoint whose config lookup fails (e.g. config deleted while the
// descriptor is stale) is reported as cost-unknown and skipped from the
// totals rather than failing the whole estimate.
func EstimateLive(ctx context.Context, registry endpoint.Registry, table Table, logger *zap.Logger) (Estimate, error) {
	descriptors, err := registry.ListEndpoints(ctx, 0)
	if err != nil {
		return Estimate{}, err
	}
	est := Estimate{}
	for _, d := range descriptors {
		if d.Status != endpoint.StatusInService {
			continue
		}
		cfg, err := registry.DescribeConfig(ctx, d.Name)
		if err != nil {
			logger.Warn("unable to get cost info for endpoint",
				zap.String("endpoint", d.Name), zap.Error(err))
			est.Endpoints = append(est.Endpoints, EndpointCost{
				EndpointName: d.Name,
				CostUnknown:  true,
			})
			continue
		}
		var hourly float64
		for _, v := range cfg.Variants {
			hourly += table.Rate(v.InstanceType) * float64(v.InstanceCount)
		}
		est.Endpoints = append(est.Endpoints, EndpointCost{
			EndpointName: d.Name,
			Variants:     cfg.Variants,
			Hourly:       hourly,
		})
		est.TotalHourly += hourly
	}
	est.TotalDaily = est.TotalHourly * hoursPerDay
	est.TotalMonthly = est.TotalDaily * daysPerMonth
	return est, nil
}
