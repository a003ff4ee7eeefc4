package normalization

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
	"lending-lab/internal/protocol"
	"lending-lab/internal/storage/memory"
)

func morphoFrame(marketID string, ts int64) *Frame {
	payload := `{
		"supply_apy": "0.032",
		"borrow_apy": "0.045",
		"lltv_wad": "860000000000000000",
		"collateral_price_usd": "3000",
		"loan_price_usd": "1.5",
		"total_supply_assets": "1000",
		"total_borrow_assets": "500"
	}`
	return &Frame{
		Protocol:  domain.ProtocolMorpho,
		MarketID:  marketID,
		Timestamp: ts,
		Payload:   json.RawMessage(payload),
	}
}

func TestNormalizeFrames_WritesCanonicalSeries(t *testing.T) {
	store := memory.NewMarketSnapshotStore()
	r := NewRunner(protocol.NewRegistry(), store)

	n, err := r.NormalizeFrames(context.Background(), []*Frame{
		morphoFrame("m1", 7200),
		morphoFrame("m2", 3600),
		morphoFrame("m1", 3600),
	})
	if err != nil {
		t.Fatalf("NormalizeFrames: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 snapshots written, got %d", n)
	}

	got, err := store.GetByMarketID(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetByMarketID: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 m1 snapshots, got %d", len(got))
	}
	if got[0].Timestamp != 3600 || got[1].Timestamp != 7200 {
		t.Errorf("wrong order: %d, %d", got[0].Timestamp, got[1].Timestamp)
	}

	// Derived fields: utilization 500/1000, price 3000/1.5
	if !got[0].Utilization.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("expected utilization 0.5, got %s", got[0].Utilization)
	}
	if !got[0].CollateralPrice.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("expected collateral price 2000, got %s", got[0].CollateralPrice)
	}
	if !got[0].LLTV.Equal(decimal.RequireFromString("0.86")) {
		t.Errorf("expected lltv 0.86, got %s", got[0].LLTV)
	}
}

func TestNormalizeFrames_DropsIntraBatchDuplicates(t *testing.T) {
	store := memory.NewMarketSnapshotStore()
	r := NewRunner(protocol.NewRegistry(), store)

	n, err := r.NormalizeFrames(context.Background(), []*Frame{
		morphoFrame("m1", 3600),
		morphoFrame("m1", 3600),
		morphoFrame("m1", 7200),
	})
	if err != nil {
		t.Fatalf("NormalizeFrames: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 snapshots after duplicate drop, got %d", n)
	}
}

func TestNormalizeFrames_UnknownProtocolFailsBatch(t *testing.T) {
	store := memory.NewMarketSnapshotStore()
	r := NewRunner(protocol.NewRegistry(), store)

	_, err := r.NormalizeFrames(context.Background(), []*Frame{
		morphoFrame("m1", 3600),
		{Protocol: "compound", MarketID: "m2", Timestamp: 3600, Payload: json.RawMessage(`{}`)},
	})
	if !errors.Is(err, protocol.ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol, got %v", err)
	}

	// Batch failed: nothing reached the store
	ids, err := store.ListMarketIDs(context.Background())
	if err != nil {
		t.Fatalf("ListMarketIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected empty store after failed batch, got %v", ids)
	}
}

func TestNormalizeFrames_EmptyBatch(t *testing.T) {
	r := NewRunner(protocol.NewRegistry(), memory.NewMarketSnapshotStore())
	n, err := r.NormalizeFrames(context.Background(), nil)
	if err != nil {
		t.Fatalf("NormalizeFrames: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"protocol":"morpho","market_id":"m1","timestamp":3600,"payload":{"lltv_wad":"860000000000000000"}}`))
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Protocol != domain.ProtocolMorpho || f.MarketID != "m1" || f.Timestamp != 3600 {
		t.Errorf("wrong frame: %+v", f)
	}

	cases := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing protocol", `{"market_id":"m1","timestamp":3600}`},
		{"missing market", `{"protocol":"morpho","timestamp":3600}`},
		{"zero timestamp", `{"protocol":"morpho","market_id":"m1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseFrame([]byte(tc.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSortAndDedupeStates(t *testing.T) {
	states := []*domain.MarketState{
		{MarketID: "m2", Timestamp: 100},
		{MarketID: "m1", Timestamp: 200},
		{MarketID: "m1", Timestamp: 100},
		{MarketID: "m1", Timestamp: 200},
	}
	SortStates(states)
	out := DedupeStates(states)

	if len(out) != 3 {
		t.Fatalf("expected 3 states, got %d", len(out))
	}
	want := []struct {
		id string
		ts int64
	}{{"m1", 100}, {"m1", 200}, {"m2", 100}}
	for i, w := range want {
		if out[i].MarketID != w.id || out[i].Timestamp != w.ts {
			t.Errorf("state %d: expected (%s, %d), got (%s, %d)", i, w.id, w.ts, out[i].MarketID, out[i].Timestamp)
		}
	}
}
