package audience

import (
	"context"
	"testing"

	"boostplane/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Account{})
	return NewService(ServiceParams{DB: db})
}

func seedAccounts(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()

	for _, a := range []*Account{
		{AccountID: "acc-1", UserID: "user-1", ClientID: "zar_client",
			Attributes: datatypes.JSON(`{"saving_total": 250000, "age_band": "25-34"}`)},
		{AccountID: "acc-2", UserID: "user-2", ClientID: "zar_client",
			Attributes: datatypes.JSON(`{"saving_total": 50000, "age_band": "18-24"}`)},
		{AccountID: "acc-3", UserID: "user-3", ClientID: "usd_client",
			Attributes: datatypes.JSON(`{"saving_total": 900000}`)},
	} {
		require.NoError(t, svc.UpsertAccount(ctx, a))
	}
}

func TestResolveAccountsEmptySelectionMatchesAll(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc)

	ids, err := svc.ResolveAccounts(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, ids, 3)
}

func TestResolveAccountsFiltersByClient(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc)

	ids, err := svc.ResolveAccounts(context.Background(), "zar_client", "")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"acc-1", "acc-2"}, ids)
}

func TestResolveAccountsEvaluatesExpression(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc)

	ids, err := svc.ResolveAccounts(context.Background(), "", "saving_total > 100000")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"acc-1", "acc-3"}, ids)
}

func TestResolveAccountsCombinedExpression(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc)

	ids, err := svc.ResolveAccounts(context.Background(), "",
		"client_id == 'zar_client' && saving_total > 100000")
	require.NoError(t, err)
	require.Equal(t, []string{"acc-1"}, ids)
}

func TestResolveAccountsInvalidExpression(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc)

	_, err := svc.ResolveAccounts(context.Background(), "", "saving_total >>> 1")
	require.Error(t, err)
}

func TestUpsertAccountRefreshesAttributes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpsertAccount(ctx, &Account{
		AccountID:  "acc-1",
		ClientID:   "zar_client",
		Attributes: datatypes.JSON(`{"saving_total": 100}`),
	}))
	require.NoError(t, svc.UpsertAccount(ctx, &Account{
		AccountID:  "acc-1",
		ClientID:   "zar_client",
		Attributes: datatypes.JSON(`{"saving_total": 500000}`),
	}))

	ids, err := svc.ResolveAccounts(ctx, "", "saving_total > 100000")
	require.NoError(t, err)
	require.Equal(t, []string{"acc-1"}, ids)

	// the old attribute document is gone, not duplicated under a second row
	stale, err := svc.ResolveAccounts(ctx, "", "saving_total == 100")
	require.NoError(t, err)
	require.Empty(t, stale)
}
