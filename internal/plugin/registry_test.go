package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/skillmatch/internal/domain"
)

type fakeSource struct {
	id   string
	name string
}

func (s fakeSource) ID() string          { return s.id }
func (s fakeSource) Kind() Kind          { return KindExternalSource }
func (s fakeSource) DisplayName() string { return s.name }
func (s fakeSource) RateLimit() RateLimit {
	return RateLimit{PerMinute: 60, Policy: PolicyFailFast}
}
func (s fakeSource) Query(context.Context, string) ([]domain.ExternalSuggestion, error) {
	return []domain.ExternalSuggestion{{Source: domain.SourceID(s.id), Name: "x", Relevance: 1}}, nil
}

type orderPre struct {
	id  string
	pri int
	log *[]string
}

func (p orderPre) ID() string    { return p.id }
func (p orderPre) Kind() Kind    { return KindPreprocessor }
func (p orderPre) Priority() int { return p.pri }
func (p orderPre) Process(_ context.Context, e *domain.Entry) (*domain.Entry, error) {
	*p.log = append(*p.log, p.id)
	e.Description += "+" + p.id
	return e, nil
}

type panicPre struct{}

func (panicPre) ID() string    { return "panics" }
func (panicPre) Kind() Kind    { return KindPreprocessor }
func (panicPre) Priority() int { return 0 }
func (panicPre) Process(context.Context, *domain.Entry) (*domain.Entry, error) {
	var m map[string]int
	m["x"] = 1
	return nil, nil
}

type panicEnricher struct{}

func (panicEnricher) ID() string    { return "panics" }
func (panicEnricher) Kind() Kind    { return KindEnricher }
func (panicEnricher) Priority() int { return 0 }
func (panicEnricher) Enrich(context.Context, []domain.MatchResult, string) ([]domain.MatchResult, error) {
	panic("enricher exploded")
}

type wrongKind struct{}

func (wrongKind) ID() string { return "liar" }
func (wrongKind) Kind() Kind { return KindEnricher }

func TestRegisterReplacesAndUnregisters(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeSource{id: "test-source", name: "Source 1"}))
	require.NoError(t, r.Register(fakeSource{id: "test-source", name: "Source 2"}))

	s, ok := r.ExternalSource("test-source")
	require.True(t, ok)
	assert.Equal(t, "Source 2", s.DisplayName())
	assert.Len(t, r.GetAll(KindExternalSource), 1)

	assert.True(t, r.Unregister("test-source"))
	assert.False(t, r.Unregister("test-source"))
	_, ok = r.ExternalSource("test-source")
	assert.False(t, ok)
}

func TestRegisterValidates(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.Register(nil), domain.ErrValidation)
	assert.ErrorIs(t, r.Register(fakeSource{id: "Bad ID"}), domain.ErrValidation)
	assert.ErrorIs(t, r.Register(wrongKind{}), domain.ErrValidation)
	assert.Equal(t, 0, r.Stats()[KindEnricher])
}

func TestGetAllSortedByID(t *testing.T) {
	r := New()
	r.MustRegister(fakeSource{id: "zeta"}, fakeSource{id: "alpha"}, UsageHints{})
	assert.Equal(t, []string{"alpha", "zeta"}, r.SourceIDs())
	assert.Len(t, r.GetAll(KindEnricher), 1)
	assert.Empty(t, r.GetAll(KindEventHook))
}

func TestApplyPreprocessorsPriorityOrderAndCopy(t *testing.T) {
	r := New()
	var calls []string
	r.MustRegister(
		orderPre{id: "late", pri: 10, log: &calls},
		orderPre{id: "early", pri: 1, log: &calls},
		Normalization{},
	)

	in := &domain.Entry{ID: "x", Name: " X ", Description: "  d  "}
	out, err := r.ApplyPreprocessors(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []string{"early", "late"}, calls)
	assert.Equal(t, "d+early+late", out.Description)
	assert.Equal(t, "X", out.Name)
	assert.Equal(t, "  d  ", in.Description, "input entry must not be modified")
}

func TestNormalizationFillsDefaults(t *testing.T) {
	e := &domain.Entry{ID: "x", Name: "X", Activation: domain.Activation{Triggers: []string{" web  design ", "", "Web Design"}}}
	out, err := Normalization{}.Process(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "Skill: X", out.Description)
	assert.Equal(t, []string{"web design"}, out.Activation.Triggers)
	assert.NotNil(t, out.Activation.NotFor)
	assert.NotNil(t, out.Tags)
}

func TestApplyEnrichersAddsUsageHints(t *testing.T) {
	r := New()
	r.MustRegister(UsageHints{})
	in := []domain.MatchResult{{Entry: &domain.Entry{ID: "mcp-creator"}, Score: 0.5}}

	out, err := r.ApplyEnrichers(context.Background(), in, "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"Invoke with: /skill mcp-creator"}, out[0].Hints)
	assert.Empty(t, in[0].Hints)
}

func TestPanickingPluginsBecomeErrors(t *testing.T) {
	r := New()
	r.MustRegister(panicPre{}, panicEnricher{})

	_, err := r.ApplyPreprocessors(context.Background(), &domain.Entry{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preprocessor panics on x")
	assert.Contains(t, err.Error(), "nil map")

	_, err = r.ApplyEnrichers(context.Background(), []domain.MatchResult{{Entry: &domain.Entry{ID: "x"}}}, "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enricher exploded")
}

func TestEmitIsolatesFailingHooks(t *testing.T) {
	r := New()
	var mu sync.Mutex
	var got []Event
	record := func(_ context.Context, ev Event) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil
	}
	r.MustRegister(
		NewHook("a-panics", func(context.Context, Event) error { panic("boom") }),
		NewHook("b-errors", func(context.Context, Event) error { return errors.New("nope") }),
		NewHook("c-records", record, EventGapDetected),
		NewHook("d-other", func(context.Context, Event) error {
			t.Error("hook subscribed to a different event was called")
			return nil
		}, EventIndexBuilt),
	)

	ctx := WithCorrelationID(context.Background(), "req-1")
	ev := r.Emit(ctx, EventGapDetected, GapEvent{Query: "q"})

	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.Equal(t, "req-1", got[0].CorrelationID)
	assert.Equal(t, EventGapDetected, got[0].Type)
	assert.NotEmpty(t, ev.ID)
}

func TestEmitWithoutCorrelationUsesEventID(t *testing.T) {
	ev := New().Emit(context.Background(), EventError, ErrorEvent{Op: "x", Err: "y"})
	assert.Equal(t, ev.ID, ev.CorrelationID)
}

func TestDefaultRegistryReset(t *testing.T) {
	ResetDefault()
	t.Cleanup(ResetDefault)

	d := Default()
	assert.Same(t, d, Default())
	assert.Equal(t, 1, d.Stats()[KindPreprocessor])

	d.MustRegister(fakeSource{id: "leaky"})
	ResetDefault()
	fresh := Default()
	assert.NotSame(t, d, fresh)
	_, ok := fresh.ExternalSource("leaky")
	assert.False(t, ok)
}
