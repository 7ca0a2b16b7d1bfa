package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"boostplane/pkg/config"
	"boostplane/pkg/events"
	"boostplane/pkg/health"
	"boostplane/pkg/random"
	"boostplane/services/audience"
	"boostplane/services/boost"
	"boostplane/services/ledger"
	"boostplane/services/redemption"
	"boostplane/services/reward"
	"boostplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeTransferClient struct{}

func (f *fakeTransferClient) Transfer(ctx context.Context, instructions []ledger.TransferInstruction) (map[string]ledger.TransferResult, error) {
	results := make(map[string]ledger.TransferResult, len(instructions))
	for _, instr := range instructions {
		result := ledger.TransferResult{
			Result:       ledger.TransferSuccess,
			AccountTxIDs: make(map[string]string, len(instr.Recipients)),
		}
		for _, r := range instr.Recipients {
			result.AccountTxIDs[r.RecipientID] = "tx-" + r.RecipientID
		}
		results[instr.Identifier] = result
	}
	return results, nil
}

type fakePublisher struct{}

func (f *fakePublisher) PublishBoostEvent(ctx context.Context, ev events.BoostEvent) error {
	return nil
}

func (f *fakePublisher) SendTemplateMessage(ctx context.Context, accountID, template string, params map[string]string) error {
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *audience.Service) {
	t.Helper()

	db := testutil.NewTestDB(t, &boost.Boost{}, &boost.AccountStatus{}, &boost.Log{}, &audience.Account{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Boost.BonusPoolID = "pool-1"
	cfg.Boost.FloatID = "float-1"

	publisher := &fakePublisher{}
	store := boost.NewStore(boost.StoreParams{DB: db, Node: node})
	redeemer := redemption.NewService(redemption.ServiceParams{
		Calculator: reward.NewCalculator(reward.CalculatorParams{Src: random.Fixed(0)}),
		Transfers:  &fakeTransferClient{},
		Statuses:   store,
		Publisher:  publisher,
		Messages:   publisher,
	})
	aud := audience.NewService(audience.ServiceParams{DB: db})

	svc := boost.NewService(boost.ServiceParams{
		DB:        db,
		Node:      node,
		Config:    cfg,
		Src:       random.Fixed(0),
		Store:     store,
		Audience:  aud,
		Redeemer:  redeemer,
		Publisher: publisher,
		Messages:  publisher,
	})

	handler := NewHandler(HandlerParams{Boosts: svc})
	return ProvideRouter(handler, health.ProvideHealth(health.HealthParams{DB: db})), aud
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func createBody() []byte {
	b, _ := json.Marshal(map[string]any{
		"clientId": "zar_client",
		"label":    "Save and win",
		"type":     "SIMPLE",
		"category": "SAVING",
		"amount":   50000,
		"unit":     "HUNDREDTH_CENT",
		"currency": "USD",
		"budget":   500000,
		"statusConditions": map[string][]string{
			"REDEEMED": {"save_event_greater_than #{100000::HUNDREDTH_CENT::USD}"},
		},
	})
	return b
}

func TestCreateAndListBoosts(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/boosts", bytes.NewReader(createBody())))
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		BoostID string `json:"BoostID"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/boosts?client_id=zar_client", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Boosts []map[string]any `json:"boosts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Boosts, 1)
}

func TestCreateBoostValidationError(t *testing.T) {
	router, _ := newTestRouter(t)

	body, _ := json.Marshal(map[string]any{"type": "MYSTERY"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/boosts", bytes.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "VALIDATION_FAILED")
}

func TestProcessEventEndpoint(t *testing.T) {
	router, aud := newTestRouter(t)
	require.NoError(t, aud.UpsertAccount(context.Background(), &audience.Account{
		AccountID: "acc-1", UserID: "user-1", ClientID: "zar_client",
	}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/boosts", bytes.NewReader(createBody())))
	require.Equal(t, http.StatusCreated, w.Code)

	body, _ := json.Marshal(map[string]any{
		"accountId": "acc-1",
		"eventType": "SAVING_PAYMENT_SUCCESSFUL",
		"context":   map[string]any{"savedAmount": "150000::HUNDREDTH_CENT::USD"},
	})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results map[string]json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
}

func TestGetUnknownBoostReturnsNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/boosts/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}
