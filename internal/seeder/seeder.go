// Package seeder generates synthetic operational events for demos and load
// testing. Baseline events are spread backward from now with jitter;
// scenario injections (causal chains, correlated bursts, metric spikes) are
// layered on top so the engine has something to find.
package seeder

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/causeway/internal/logging"
	"github.com/telhawk-systems/causeway/internal/models"
)

// Sink receives generated events. The NATS publisher satisfies it.
type Sink interface {
	PublishEvent(ctx context.Context, ev *models.NormalizedEvent) error
}

// Config controls how many events are generated and which scenarios are
// injected on top of the baseline noise.
type Config struct {
	Count    int           // baseline events
	Spread   time.Duration // baseline events are placed backward from now
	Interval time.Duration // pause between publishes, 0 for full speed

	Chains   int // causal chains (deploy -> errors -> latency)
	ChainLen int // events per chain, minimum 2
	Bursts   int // bursts sharing an upstream correlation id
	BurstLen int // events per burst, minimum 2
	Spikes   int // steady metric series ending in an outlier
	SpikeLen int // samples per series before the outlier, minimum 4

	Seed int64 // rng seed, 0 derives one from the clock
}

// Seeder produces and publishes synthetic events.
type Seeder struct {
	cfg   Config
	sink  Sink
	log   *logging.Logger
	rng   *rand.Rand
	faker *gofakeit.Faker
	now   time.Time
}

// New creates a seeder. A zero seed is replaced with the current time so
// repeated runs differ; a fixed seed makes runs reproducible.
func New(cfg Config, sink Sink, log *logging.Logger) *Seeder {
	if log == nil {
		log = logging.Default()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.ChainLen < 2 {
		cfg.ChainLen = 4
	}
	if cfg.BurstLen < 2 {
		cfg.BurstLen = 3
	}
	if cfg.SpikeLen < 4 {
		cfg.SpikeLen = 12
	}
	return &Seeder{
		cfg:   cfg,
		sink:  sink,
		log:   log,
		rng:   rand.New(rand.NewSource(seed)),
		faker: gofakeit.New(seed),
		now:   time.Now().UTC(),
	}
}

// Run generates the configured events and publishes them through the sink.
// Publish failures are counted and logged but do not stop the run; context
// cancellation does.
func (s *Seeder) Run(ctx context.Context) error {
	events := s.generate()

	s.log.Info("seeding events",
		"total", len(events),
		"baseline", s.cfg.Count,
		"chains", s.cfg.Chains,
		"bursts", s.cfg.Bursts,
		"spikes", s.cfg.Spikes,
		"spread", s.cfg.Spread.String(),
	)

	sent, failed := 0, 0
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sink.PublishEvent(ctx, ev); err != nil {
			failed++
			s.log.Warn("publish failed", "event_id", ev.ID, "error", err)
		} else {
			sent++
		}
		if s.cfg.Interval > 0 && i < len(events)-1 {
			select {
			case <-time.After(s.cfg.Interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	s.log.Info("seeding complete", "sent", sent, "failed", failed)
	return nil
}

// generate builds the full event set: jittered baseline noise first, then
// the scenario injections. Events are not sorted; the engine tolerates
// modest disorder within its window.
func (s *Seeder) generate() []*models.NormalizedEvent {
	events := make([]*models.NormalizedEvent, 0, s.total())

	for i := 0; i < s.cfg.Count; i++ {
		events = append(events, s.baselineEvent(i))
	}
	for i := 0; i < s.cfg.Chains; i++ {
		events = append(events, s.causalChain()...)
	}
	for i := 0; i < s.cfg.Bursts; i++ {
		events = append(events, s.correlatedBurst()...)
	}
	for i := 0; i < s.cfg.Spikes; i++ {
		events = append(events, s.metricSpike()...)
	}
	return events
}

func (s *Seeder) total() int {
	return s.cfg.Count +
		s.cfg.Chains*s.cfg.ChainLen +
		s.cfg.Bursts*s.cfg.BurstLen +
		s.cfg.Spikes*(s.cfg.SpikeLen+1)
}

// jitteredTime spaces event i of n evenly across the spread with ±40%
// jitter, placed going backward from now.
func (s *Seeder) jitteredTime(i, n int) time.Time {
	if s.cfg.Spread <= 0 || n <= 0 {
		return s.now
	}
	base := float64(s.cfg.Spread) / float64(n)
	offset := time.Duration(float64(i) * base)
	jitter := time.Duration((s.rng.Float64()*2 - 1) * base * 0.4)

	total := offset + jitter
	if total < 0 {
		total = 0
	}
	if total > s.cfg.Spread {
		total = s.cfg.Spread
	}
	return s.now.Add(-(s.cfg.Spread - total))
}

// scenarioStart picks a random anchor inside the spread, leaving headroom
// so the whole scenario fits before now.
func (s *Seeder) scenarioStart(span time.Duration) time.Time {
	if s.cfg.Spread <= span {
		return s.now.Add(-span)
	}
	slack := s.cfg.Spread - span
	back := span + time.Duration(s.rng.Int63n(int64(slack)))
	return s.now.Add(-back)
}

func (s *Seeder) baselineEvent(i int) *models.NormalizedEvent {
	at := s.jitteredTime(i, s.cfg.Count)
	switch s.rng.Intn(4) {
	case 0:
		return s.securityEvent(at)
	case 1:
		return s.costEvent(at)
	case 2:
		return s.governanceEvent(at)
	default:
		return s.telemetryEvent(at, s.metricName(), 0)
	}
}

var metricNames = []string{"latency_p99", "cpu_utilization", "memory_rss_mb", "queue_depth", "error_rate"}

func (s *Seeder) metricName() string {
	return metricNames[s.rng.Intn(len(metricNames))]
}

// telemetryEvent emits a metric_sample. A non-zero override pins the value,
// used by metricSpike to plant outliers.
func (s *Seeder) telemetryEvent(at time.Time, metric string, override float64) *models.NormalizedEvent {
	value := override
	if value == 0 {
		switch metric {
		case "latency_p99":
			value = 80 + s.rng.Float64()*60
		case "cpu_utilization":
			value = 20 + s.rng.Float64()*50
		case "memory_rss_mb":
			value = 512 + s.rng.Float64()*1024
		case "queue_depth":
			value = float64(s.rng.Intn(40))
		default:
			value = s.rng.Float64() * 2
		}
	}
	return &models.NormalizedEvent{
		ID:        s.faker.UUID(),
		Timestamp: at,
		Source:    "telemetry",
		Type:      "metric_sample",
		Severity:  models.SeverityLow,
		Tags:      map[string]string{"host": s.faker.DomainName(), "metric": metric},
		Payload:   models.TelemetryPayload{Metric: metric, Value: value, Unit: unitFor(metric)},
	}
}

func unitFor(metric string) string {
	switch metric {
	case "latency_p99":
		return "ms"
	case "cpu_utilization":
		return "percent"
	case "memory_rss_mb":
		return "mb"
	default:
		return ""
	}
}

func (s *Seeder) securityEvent(at time.Time) *models.NormalizedEvent {
	categories := []string{"authentication", "network", "access_control"}
	category := categories[s.rng.Intn(len(categories))]

	outcome := "success"
	severity := models.SeverityLow
	risk := s.rng.Float64() * 0.3
	if s.rng.Float64() < 0.15 {
		outcome = "failure"
		severity = models.SeverityMedium
		risk = 0.4 + s.rng.Float64()*0.4
	}

	return &models.NormalizedEvent{
		ID:        s.faker.UUID(),
		Timestamp: at,
		Source:    "security",
		Type:      category + "_event",
		Severity:  severity,
		Tags:      map[string]string{"user": s.faker.Username(), "src_ip": s.faker.IPv4Address()},
		Payload: models.SecurityPayload{
			Category:  category,
			Action:    []string{"login", "connect", "read", "escalate"}[s.rng.Intn(4)],
			Outcome:   outcome,
			RiskScore: risk,
		},
	}
}

func (s *Seeder) costEvent(at time.Time) *models.NormalizedEvent {
	services := []string{"compute", "storage", "egress", "search"}
	service := services[s.rng.Intn(len(services))]
	delta := (s.rng.Float64() - 0.3) * 200

	severity := models.SeverityLow
	if delta > 100 {
		severity = models.SeverityMedium
	}

	return &models.NormalizedEvent{
		ID:        s.faker.UUID(),
		Timestamp: at,
		Source:    "cost",
		Type:      "spend_delta",
		Severity:  severity,
		Tags:      map[string]string{"service": service},
		Payload: models.CostPayload{
			Service:   service,
			CostDelta: delta,
			Currency:  "USD",
			BudgetPct: 40 + s.rng.Float64()*60,
		},
	}
}

func (s *Seeder) governanceEvent(at time.Time) *models.NormalizedEvent {
	policies := []string{"retention", "encryption_at_rest", "access_review", "tagging"}
	policy := policies[s.rng.Intn(len(policies))]

	violations := 0
	outcome := "compliant"
	severity := models.SeverityLow
	if s.rng.Float64() < 0.2 {
		violations = 1 + s.rng.Intn(5)
		outcome = "violation"
		severity = models.SeverityMedium
	}

	return &models.NormalizedEvent{
		ID:        s.faker.UUID(),
		Timestamp: at,
		Source:    "governance",
		Type:      "policy_check",
		Severity:  severity,
		Tags:      map[string]string{"resource": s.faker.AppName()},
		Payload: models.GovernancePayload{
			Policy:     policy,
			Resource:   s.faker.DomainName(),
			Outcome:    outcome,
			Violations: violations,
		},
	}
}

// causalChain emits a deploy root followed by a lineage of degradations,
// each naming the previous event as its parent.
func (s *Seeder) causalChain() []*models.NormalizedEvent {
	step := 30 * time.Second
	span := time.Duration(s.cfg.ChainLen-1) * step
	at := s.scenarioStart(span)

	root := &models.NormalizedEvent{
		ID:        s.faker.UUID(),
		Timestamp: at,
		Source:    "governance",
		Type:      "deploy_completed",
		Severity:  models.SeverityLow,
		Tags:      map[string]string{"service": s.faker.AppName()},
		Payload: models.GovernancePayload{
			Policy:   "change_management",
			Resource: s.faker.DomainName(),
			Outcome:  "deployed",
		},
	}

	chain := []*models.NormalizedEvent{root}
	followups := []struct {
		typ      string
		severity models.Severity
	}{
		{"error_rate", models.SeverityMedium},
		{"latency_breach", models.SeverityHigh},
		{"saturation", models.SeverityHigh},
	}

	parent := root
	for i := 1; i < s.cfg.ChainLen; i++ {
		f := followups[(i-1)%len(followups)]
		at = at.Add(step)
		ev := &models.NormalizedEvent{
			ID:            s.faker.UUID(),
			Timestamp:     at,
			Source:        "telemetry",
			Type:          f.typ,
			Severity:      f.severity,
			ParentEventID: parent.ID,
			Tags:          root.Tags,
			Payload: models.TelemetryPayload{
				Metric:         f.typ,
				Value:          200 + s.rng.Float64()*400,
				Unit:           "ms",
				LatencyDeltaMS: 100 + s.rng.Float64()*300,
			},
		}
		chain = append(chain, ev)
		parent = ev
	}
	return chain
}

// correlatedBurst emits events across sources that share an upstream
// correlation id, as an ingest pipeline would stamp them.
func (s *Seeder) correlatedBurst() []*models.NormalizedEvent {
	span := time.Duration(s.cfg.BurstLen) * 10 * time.Second
	at := s.scenarioStart(span)
	corrID := s.faker.UUID()

	burst := make([]*models.NormalizedEvent, 0, s.cfg.BurstLen)
	for i := 0; i < s.cfg.BurstLen; i++ {
		var ev *models.NormalizedEvent
		switch i % 3 {
		case 0:
			ev = s.securityEvent(at)
		case 1:
			ev = s.telemetryEvent(at, "error_rate", 0)
		default:
			ev = s.costEvent(at)
		}
		ev.CorrelationID = corrID
		ev.Severity = models.SeverityMedium
		burst = append(burst, ev)
		at = at.Add(time.Duration(1+s.rng.Intn(10)) * time.Second)
	}
	return burst
}

// metricSpike emits a steady series on one metric then a final outlier at
// several times the baseline level.
func (s *Seeder) metricSpike() []*models.NormalizedEvent {
	cadence := 30 * time.Second
	span := time.Duration(s.cfg.SpikeLen) * cadence
	at := s.scenarioStart(span)
	metric := s.metricName()
	base := 100 + s.rng.Float64()*50

	series := make([]*models.NormalizedEvent, 0, s.cfg.SpikeLen+1)
	for i := 0; i < s.cfg.SpikeLen; i++ {
		value := base + s.rng.Float64()*base*0.05
		series = append(series, s.telemetryEvent(at, metric, value))
		at = at.Add(cadence)
	}

	outlier := s.telemetryEvent(at, metric, base*(4+s.rng.Float64()*4))
	outlier.Severity = models.SeverityMedium
	series = append(series, outlier)
	return series
}

// Describe summarizes what a run with this config will produce.
func (c Config) Describe() string {
	return fmt.Sprintf("%d baseline, %d chains, %d bursts, %d spikes over %s",
		c.Count, c.Chains, c.Bursts, c.Spikes, c.Spread)
}
