package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lookthrough/internal/model"
)

func testIndex() *Index {
	companies := []model.Company{
		{ID: "c-acme", Name: "Acme Corporation"},
		{ID: "c-step2", Name: "Step2 Discovery"},
		{ID: "c-mustang", Name: "Mustang Prospects Holdco, LLC"},
		{ID: "c-widget", Name: "Widget Works International"},
	}
	aliases := []model.Alias{
		{ID: "a-1", CompanyID: "c-step2", AliasText: "The Step2 Company", Confidence: 0.95},
	}
	return NewIndex(companies, aliases)
}

func TestResolve_Cascade(t *testing.T) {
	r := New(testIndex())

	tests := []struct {
		name       string
		raw        string
		wantID     string
		wantMethod model.MatchMethod
		wantConf   float64
	}{
		{"exact", "Acme Corporation", "c-acme", model.MatchExact, 1.0},
		{"exact case-insensitive", "ACME CORPORATION", "c-acme", model.MatchExact, 1.0},
		{"alias", "The Step2 Company", "c-step2", model.MatchAlias, 0.95},
		{"normalized", "Acme Corp.", "c-acme", model.MatchNormalized, 0.90},
		{"normalized suffix variant", "Acme, Inc.", "c-acme", model.MatchNormalized, 0.90},
		{"token overlap", "Global Widget Works International", "c-widget", model.MatchTokenOverlap, 0.80},
		{
			"first entity",
			"Mustang Prospects Holdco, LLC, Mustang Prospects Purchaser, LLC and Mustang Prospects Blocker, Inc.",
			"c-mustang", model.MatchFirstEntity, 0.75,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(tt.raw)
			require.NotNil(t, res.CompanyID)
			assert.Equal(t, tt.wantID, *res.CompanyID)
			assert.Equal(t, tt.wantMethod, res.Method)
			assert.Equal(t, tt.wantConf, res.Confidence)
		})
	}
}

func TestResolve_TokenOverlapScore(t *testing.T) {
	r := New(testIndex())

	res := r.Resolve("Global Widget Works International")
	require.Equal(t, model.MatchTokenOverlap, res.Method)
	// tokens {global, widget, works, international} vs
	// {widget, works, international}: 3 shared of 4 total.
	assert.InDelta(t, 0.75, res.Score, 1e-9)
}

func TestResolve_Unmatched(t *testing.T) {
	r := New(testIndex())

	for _, raw := range []string{"Zenith Unrelated Partners", "", "   "} {
		res := r.Resolve(raw)
		assert.Nil(t, res.CompanyID, raw)
		assert.Equal(t, model.MatchUnmatched, res.Method, raw)
		assert.Equal(t, 0.0, res.Confidence, raw)
	}
}

func TestResolve_SingleTokenNeverFuzzy(t *testing.T) {
	r := New(testIndex())

	// "Acme" normalizes to a single token; token overlap must not fire.
	res := r.Resolve("Acme")
	// It may still hit the normalized index if "acme" is a stored form.
	if res.Method != model.MatchUnmatched {
		assert.NotEqual(t, model.MatchTokenOverlap, res.Method)
	}
}

type fakeAliasStore struct {
	upserts []model.Alias
}

func (f *fakeAliasStore) UpsertAlias(_ context.Context, a model.Alias) (model.Alias, error) {
	f.upserts = append(f.upserts, a)
	return a, nil
}

type fakeAudit struct {
	events []model.AuditEvent
}

func (f *fakeAudit) Append(_ context.Context, ev model.AuditEvent) (model.AuditEvent, error) {
	f.events = append(f.events, ev)
	return ev, nil
}

func TestResolveHoldings_LearnsAliases(t *testing.T) {
	store := &fakeAliasStore{}
	audit := &fakeAudit{}
	r := New(testIndex(), WithAliasLearning(store, 100), WithAuditLog(audit))

	holdings := []model.ReportedHolding{
		{ID: "h-1", RawCompanyName: "Acme Corp."},
		{ID: "h-2", RawCompanyName: "Acme Corp."},
	}
	resolutions, err := r.ResolveHoldings(context.Background(), "run-1", holdings)
	require.NoError(t, err)
	require.Len(t, resolutions, 2)

	// First sighting matches by normalization and is learned as an alias.
	assert.Equal(t, model.MatchNormalized, resolutions[0].Method)
	assert.Equal(t, 0.90, resolutions[0].Confidence)

	// Second sighting hits the learned alias at the learned confidence.
	assert.Equal(t, model.MatchAlias, resolutions[1].Method)
	assert.Equal(t, 0.90, resolutions[1].Confidence)

	require.Len(t, store.upserts, 1)
	alias := store.upserts[0]
	assert.Equal(t, "c-acme", alias.CompanyID)
	assert.Equal(t, "Acme Corp.", alias.AliasText)
	assert.Equal(t, "acme", alias.NormalizedText)
	assert.Equal(t, 0.90, alias.Confidence)
	assert.Equal(t, "resolver:normalized", alias.Source)

	// Holdings are updated in place.
	require.NotNil(t, holdings[0].CompanyID)
	assert.Equal(t, "c-acme", *holdings[0].CompanyID)
	assert.Equal(t, model.MatchNormalized, holdings[0].MatchMethod)
}

func TestResolveHoldings_AliasCoversVariants(t *testing.T) {
	store := &fakeAliasStore{}
	r := New(testIndex(), WithAliasLearning(store, 100))

	holdings := []model.ReportedHolding{
		{ID: "h-1", RawCompanyName: "Acme Corp."},
		{ID: "h-2", RawCompanyName: "ACME CORP"},
	}
	resolutions, err := r.ResolveHoldings(context.Background(), "run-1", holdings)
	require.NoError(t, err)
	require.Len(t, resolutions, 2)

	assert.Equal(t, model.MatchNormalized, resolutions[0].Method)

	// "ACME CORP" is not the literal alias text, but it normalizes to the
	// learned alias's form and must hit the alias entry, not re-run the
	// normalized strategy.
	assert.Equal(t, model.MatchAlias, resolutions[1].Method)
	assert.Equal(t, 0.90, resolutions[1].Confidence)
	require.NotNil(t, resolutions[1].CompanyID)
	assert.Equal(t, "c-acme", *resolutions[1].CompanyID)

	// Only the first sighting is persisted as an alias.
	require.Len(t, store.upserts, 1)
}

func TestResolveHoldings_AuditEvents(t *testing.T) {
	audit := &fakeAudit{}
	r := New(testIndex(), WithAuditLog(audit))

	holdings := []model.ReportedHolding{
		{ID: "h-1", RawCompanyName: "Acme Corporation"},
		{ID: "h-2", RawCompanyName: "Totally Unknown Ventures"},
	}
	_, err := r.ResolveHoldings(context.Background(), "run-1", holdings)
	require.NoError(t, err)

	require.Len(t, audit.events, 2)
	for _, ev := range audit.events {
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, model.ActorSystem, ev.ActorType)
		assert.Equal(t, model.ActionEntityResolution, ev.Action)
		assert.Equal(t, "reported_holding", ev.EntityType)
	}
	assert.Equal(t, "h-1", audit.events[0].EntityID)
	assert.Equal(t, "h-2", audit.events[1].EntityID)
}

func TestResolveHoldings_SkipsResolved(t *testing.T) {
	r := New(testIndex())

	existing := "c-step2"
	holdings := []model.ReportedHolding{
		{ID: "h-1", RawCompanyName: "Acme Corporation", CompanyID: &existing},
	}
	resolutions, err := r.ResolveHoldings(context.Background(), "run-1", holdings)
	require.NoError(t, err)
	assert.Empty(t, resolutions)
	assert.Equal(t, "c-step2", *holdings[0].CompanyID, "pre-resolved holdings are never overwritten")
}

func TestResolveHoldings_AliasCap(t *testing.T) {
	store := &fakeAliasStore{}
	r := New(testIndex(), WithAliasLearning(store, 1))

	holdings := []model.ReportedHolding{
		{ID: "h-1", RawCompanyName: "Acme Corp."},
	}
	_, err := r.ResolveHoldings(context.Background(), "run-1", holdings)
	require.NoError(t, err)
	// The index already holds one alias and the cap is one, so nothing is
	// learned.
	assert.Empty(t, store.upserts)
}

func TestResolveHoldings_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(testIndex())
	_, err := r.ResolveHoldings(ctx, "run-1", []model.ReportedHolding{
		{ID: "h-1", RawCompanyName: "Acme Corporation"},
	})
	assert.Error(t, err)
}
