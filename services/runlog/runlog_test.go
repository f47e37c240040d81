package runlog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"market_etl_backend/models"
	"market_etl_backend/services/storetest"
)

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	s := New(storetest.Open(t))

	if run, err := s.Last(ctx); err != nil || run != nil {
		t.Fatalf("Last on empty = %v, %v", run, err)
	}

	base := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	ops := []string{models.OperationStart, models.OperationBatch, models.OperationBatch, models.OperationStop}
	for i, op := range ops {
		run := &models.BatchRun{
			Operation:  op,
			TradingDay: "2026-03-02",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 1500*time.Millisecond),
		}
		var results any
		if op == models.OperationBatch {
			results = []map[string]string{{"symbol": "AAPL", "status": "ok"}}
		}
		if err := s.Record(ctx, run, results); err != nil {
			t.Fatalf("Record %s: %v", op, err)
		}
		if run.DurationMS != 1500 {
			t.Fatalf("duration = %d", run.DurationMS)
		}
	}

	last, err := s.Last(ctx)
	if err != nil || last == nil || last.Operation != models.OperationStop {
		t.Fatalf("Last = %+v, %v", last, err)
	}

	batches, err := s.Recent(ctx, models.OperationBatch, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(batches) != 2 || !batches[0].StartedAt.After(batches[1].StartedAt) {
		t.Fatalf("batches = %+v", batches)
	}
	var results []map[string]string
	if err := json.Unmarshal(batches[0].Results, &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 1 || results[0]["symbol"] != "AAPL" {
		t.Fatalf("results = %v", results)
	}

	all, err := s.Recent(ctx, "", 3)
	if err != nil || len(all) != 3 {
		t.Fatalf("Recent all = %d, %v", len(all), err)
	}
}
