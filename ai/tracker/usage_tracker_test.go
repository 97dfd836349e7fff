package tracker

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/chainable/db"
)

// setupTestDB creates an in-memory SQLite database with the usage table migrated
func setupTestDB(t *testing.T) *sql.DB {
	conn, err := db.OpenWithMigrations(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewUsageTracker(t *testing.T) {
	conn := setupTestDB(t)

	tracker := NewUsageTracker(conn, nil)
	if tracker == nil {
		t.Fatal("NewUsageTracker returned nil")
	}
	if tracker.db != conn {
		t.Error("UsageTracker database not set correctly")
	}
	if tracker.logger == nil {
		t.Error("Expected nop logger when none is given")
	}
}

func TestTrackUsage(t *testing.T) {
	conn := setupTestDB(t)
	tracker := NewUsageTracker(conn, zaptest.NewLogger(t).Sugar())

	now := time.Now()
	responseTime := now.Add(2 * time.Second)
	tokens := 150
	cost := 0.05

	usage := &ModelUsage{
		OperationType:     "chain-step",
		EntityType:        "chain",
		EntityID:          "run-123",
		ModelName:         "gpt-4o-mini",
		ModelProvider:     "openai",
		ModelConfig:       NewModelConfig(float64Ptr(0.2), intPtr(2000), false),
		RequestTimestamp:  now,
		ResponseTimestamp: &responseTime,
		TokensUsed:        &tokens,
		Cost:              &cost,
		Success:           true,
		Metadata:          NewUsageMetadata(UsageMetadata{ChainName: "pip", Step: intPtr(0)}),
	}

	if err := tracker.TrackUsage(usage); err != nil {
		t.Fatalf("TrackUsage failed: %v", err)
	}

	var stored ModelUsage
	row := conn.QueryRow(`
		SELECT operation_type, entity_type, entity_id, model_name, model_provider,
		       tokens_used, cost, success
		FROM ai_model_usage WHERE id = 1`)

	err := row.Scan(&stored.OperationType, &stored.EntityType, &stored.EntityID,
		&stored.ModelName, &stored.ModelProvider, &stored.TokensUsed,
		&stored.Cost, &stored.Success)
	if err != nil {
		t.Fatalf("Failed to retrieve stored usage: %v", err)
	}

	if stored.OperationType != "chain-step" {
		t.Errorf("Expected operation_type 'chain-step', got '%s'", stored.OperationType)
	}
	if stored.EntityID != "run-123" {
		t.Errorf("Expected entity_id 'run-123', got '%s'", stored.EntityID)
	}
	if *stored.TokensUsed != 150 {
		t.Errorf("Expected tokens_used 150, got %d", *stored.TokensUsed)
	}
	if *stored.Cost != 0.05 {
		t.Errorf("Expected cost 0.05, got %f", *stored.Cost)
	}
	if !stored.Success {
		t.Error("Expected success to be true")
	}
}

func TestTrackUsageWithError(t *testing.T) {
	conn := setupTestDB(t)
	tracker := NewUsageTracker(conn, nil)

	errorMsg := "API key invalid"
	usage := &ModelUsage{
		OperationType:    "chain-step",
		EntityType:       "chain",
		EntityID:         "run-456",
		ModelName:        "claude-3-haiku",
		ModelProvider:    "anthropic",
		RequestTimestamp: time.Now(),
		Success:          false,
		ErrorMessage:     &errorMsg,
	}

	if err := tracker.TrackUsage(usage); err != nil {
		t.Fatalf("TrackUsage failed: %v", err)
	}

	var storedSuccess bool
	var storedErrorMsg sql.NullString
	err := conn.QueryRow("SELECT success, error_message FROM ai_model_usage WHERE id = 1").Scan(&storedSuccess, &storedErrorMsg)
	if err != nil {
		t.Fatalf("Failed to retrieve error record: %v", err)
	}

	if storedSuccess {
		t.Error("Expected success to be false for error case")
	}
	if !storedErrorMsg.Valid || storedErrorMsg.String != "API key invalid" {
		t.Errorf("Expected error message 'API key invalid', got '%s'", storedErrorMsg.String)
	}
}

func seedUsage(t *testing.T, tracker *UsageTracker, at time.Time) {
	t.Helper()
	responseTime := at.Add(2 * time.Second)
	usages := []*ModelUsage{
		{
			OperationType: "chain-step", EntityType: "chain", EntityID: "run-a",
			ModelName: "gpt-4o-mini", ModelProvider: "openai",
			RequestTimestamp: at, ResponseTimestamp: &responseTime,
			TokensUsed: intPtr(100), Cost: float64Ptr(0.02), Success: true,
		},
		{
			OperationType: "chain-step", EntityType: "chain", EntityID: "run-a",
			ModelName: "gpt-4o-mini", ModelProvider: "openai",
			RequestTimestamp: at, ResponseTimestamp: &responseTime,
			TokensUsed: intPtr(200), Cost: float64Ptr(0.04), Success: true,
		},
		{
			OperationType: "chain-step", EntityType: "chain", EntityID: "run-b",
			ModelName: "claude-3-haiku", ModelProvider: "anthropic",
			RequestTimestamp: at, ResponseTimestamp: &responseTime,
			TokensUsed: intPtr(150), Cost: float64Ptr(0.03), Success: true,
		},
		{
			OperationType: "chain-step", EntityType: "chain", EntityID: "run-b",
			ModelName: "gpt-4o-mini", ModelProvider: "openai",
			RequestTimestamp: at, Success: false,
		},
	}
	for _, usage := range usages {
		if err := tracker.TrackUsage(usage); err != nil {
			t.Fatalf("Failed to insert test usage: %v", err)
		}
	}
}

func TestGetUsageStats(t *testing.T) {
	tracker := NewUsageTracker(setupTestDB(t), nil)
	now := time.Now()
	seedUsage(t, tracker, now.Add(-1*time.Hour))

	stats, err := tracker.GetUsageStats(Filter{Since: now.Add(-2 * time.Hour)})
	if err != nil {
		t.Fatalf("GetUsageStats failed: %v", err)
	}

	if stats.TotalRequests != 4 {
		t.Errorf("Expected 4 total requests, got %d", stats.TotalRequests)
	}
	if stats.SuccessfulRequests != 3 {
		t.Errorf("Expected 3 successful requests, got %d", stats.SuccessfulRequests)
	}
	if stats.TotalTokens != 450 {
		t.Errorf("Expected 450 total tokens, got %d", stats.TotalTokens)
	}
	if abs(stats.TotalCost-0.09) > 1e-9 {
		t.Errorf("Expected total cost 0.09, got %f", stats.TotalCost)
	}
	if stats.UniqueModels != 2 {
		t.Errorf("Expected 2 unique models, got %d", stats.UniqueModels)
	}
	if abs(stats.SuccessRate-0.75) > 0.001 {
		t.Errorf("Expected success rate 0.75, got %f", stats.SuccessRate)
	}

	recent, err := tracker.GetUsageStats(Filter{Since: now.Add(-30 * time.Minute)})
	if err != nil {
		t.Fatalf("GetUsageStats for recent period failed: %v", err)
	}
	if recent.TotalRequests != 0 || recent.TotalCost != 0 || recent.SuccessRate != 0 {
		t.Errorf("Expected empty recent stats, got %+v", recent)
	}
}

func TestGetUsageStats_ByEntity(t *testing.T) {
	tracker := NewUsageTracker(setupTestDB(t), nil)
	seedUsage(t, tracker, time.Now().Add(-1*time.Hour))

	stats, err := tracker.GetUsageStats(Filter{EntityType: "chain", EntityID: "run-b"})
	if err != nil {
		t.Fatalf("GetUsageStats failed: %v", err)
	}
	if stats.TotalRequests != 2 {
		t.Errorf("Expected 2 requests for run-b, got %d", stats.TotalRequests)
	}
	if stats.TotalTokens != 150 {
		t.Errorf("Expected 150 tokens for run-b, got %d", stats.TotalTokens)
	}
}

func TestGetModelBreakdown(t *testing.T) {
	tracker := NewUsageTracker(setupTestDB(t), nil)
	now := time.Now()
	seedUsage(t, tracker, now.Add(-1*time.Hour))

	breakdown, err := tracker.GetModelBreakdown(Filter{Since: now.Add(-2 * time.Hour)})
	if err != nil {
		t.Fatalf("GetModelBreakdown failed: %v", err)
	}
	if len(breakdown) != 2 {
		t.Fatalf("Expected 2 models in breakdown, got %d", len(breakdown))
	}

	gpt := breakdown[0]
	if gpt.ModelName != "gpt-4o-mini" {
		t.Fatalf("Expected gpt-4o-mini first (highest cost), got %s", gpt.ModelName)
	}
	if gpt.RequestCount != 2 {
		t.Errorf("Expected 2 successful requests for gpt-4o-mini, got %d", gpt.RequestCount)
	}
	if gpt.TotalTokens != 300 {
		t.Errorf("Expected 300 total tokens for gpt-4o-mini, got %d", gpt.TotalTokens)
	}
	if gpt.AvgResponseTimeMs == nil {
		t.Error("Expected non-nil avg response time")
	} else if abs(*gpt.AvgResponseTimeMs-2000) > 1 {
		t.Errorf("Expected avg response time ~2000ms, got %f", *gpt.AvgResponseTimeMs)
	}
}

func TestGetTimeSeriesData(t *testing.T) {
	tracker := NewUsageTracker(setupTestDB(t), nil)
	day1 := time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	seedUsage(t, tracker, day1)
	seedUsage(t, tracker, day2)

	points, err := tracker.GetTimeSeriesData(Filter{Since: day1.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("GetTimeSeriesData failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("Expected 2 days, got %d", len(points))
	}
	if points[0].Date != "2024-03-08" || points[1].Date != "2024-03-09" {
		t.Errorf("Unexpected dates: %s, %s", points[0].Date, points[1].Date)
	}
	if points[0].Requests != 4 {
		t.Errorf("Expected 4 requests on day one, got %d", points[0].Requests)
	}
}

func TestNewModelConfig(t *testing.T) {
	config := NewModelConfig(float64Ptr(0.7), intPtr(1000), true)
	if config == nil {
		t.Fatal("NewModelConfig returned nil")
	}

	var decoded ModelConfig
	if err := json.Unmarshal([]byte(*config), &decoded); err != nil {
		t.Fatalf("Expected valid JSON, got %v", err)
	}
	if !decoded.JSONMode || *decoded.MaxTokens != 1000 {
		t.Errorf("Unexpected config: %s", *config)
	}

	if NewModelConfig(nil, nil, false) != nil {
		t.Error("Expected nil config for empty parameters")
	}
	if NewModelConfig(nil, nil, true) == nil {
		t.Error("Expected non-nil config with JSON mode only")
	}
}

func TestNewUsageMetadata(t *testing.T) {
	metadata := NewUsageMetadata(UsageMetadata{
		ChainName:    "pip",
		Step:         intPtr(2),
		InputLength:  intPtr(100),
		OutputLength: intPtr(50),
	})
	if metadata == nil {
		t.Fatal("NewUsageMetadata returned nil")
	}
	if *metadata != `{"chain_name":"pip","step":2,"input_length":100,"output_length":50}` {
		t.Errorf("Unexpected metadata JSON: %s", *metadata)
	}
}

// --- Sqlmock Tests ---

func TestTrackUsage_Sqlmock(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer conn.Close()

	tracker := NewUsageTracker(conn, nil)

	usage := &ModelUsage{
		OperationType:    "chain-step",
		EntityType:       "chain",
		EntityID:         "123",
		ModelName:        "gpt-4o-mini",
		ModelProvider:    "openai",
		RequestTimestamp: time.Now(),
		TokensUsed:       intPtr(100),
		Cost:             float64Ptr(0.02),
		Success:          true,
	}

	mock.ExpectExec(`INSERT INTO ai_model_usage`).
		WithArgs(
			usage.OperationType,
			usage.EntityType,
			usage.EntityID,
			usage.ModelName,
			usage.ModelProvider,
			sqlmock.AnyArg(), // model_config
			usage.RequestTimestamp.UTC(),
			sqlmock.AnyArg(), // response_timestamp
			usage.TokensUsed,
			usage.Cost,
			usage.Success,
			sqlmock.AnyArg(), // error_message
			sqlmock.AnyArg(), // metadata
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := tracker.TrackUsage(usage); err != nil {
		t.Errorf("TrackUsage failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestTrackUsage_SqlmockFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectExec(`INSERT INTO ai_model_usage`).WillReturnError(errors.New("database is locked"))

	err = NewUsageTracker(conn, nil).TrackUsage(&ModelUsage{ModelName: "gpt-4o-mini", RequestTimestamp: time.Now()})
	if err == nil {
		t.Fatal("Expected error from failed insert")
	}
	if got := err.Error(); got != "failed to track usage for gpt-4o-mini: database is locked" {
		t.Errorf("Unexpected error: %s", got)
	}
}

func TestTrackUsage_ClosedDatabase(t *testing.T) {
	conn, err := db.OpenWithMigrations(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	tracker := NewUsageTracker(conn, zaptest.NewLogger(t).Sugar())
	conn.Close()

	// A run torn down mid-step must not fail on its last usage row
	if err := tracker.TrackUsage(&ModelUsage{ModelName: "gpt-4o-mini", RequestTimestamp: time.Now()}); err != nil {
		t.Errorf("Expected closed database to be tolerated, got %v", err)
	}
}

func TestGetUsageStats_Sqlmock(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer conn.Close()

	since := time.Now().Add(-1 * time.Hour)

	rows := sqlmock.NewRows([]string{
		"total_requests",
		"successful_requests",
		"total_tokens",
		"total_cost",
		"unique_models",
	}).AddRow(10, 8, 1500, 0.50, 3)

	mock.ExpectQuery(`SELECT.*FROM ai_model_usage\s+WHERE request_timestamp >= \? AND entity_id = \?`).
		WithArgs(since.UTC(), "run-1").
		WillReturnRows(rows)

	stats, err := NewUsageTracker(conn, nil).GetUsageStats(Filter{Since: since, EntityID: "run-1"})
	if err != nil {
		t.Fatalf("GetUsageStats failed: %v", err)
	}

	if stats.TotalRequests != 10 {
		t.Errorf("Expected 10 total requests, got %d", stats.TotalRequests)
	}
	if abs(stats.SuccessRate-0.8) > 0.001 {
		t.Errorf("Expected success rate 0.8, got %f", stats.SuccessRate)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestGetModelBreakdown_SqlmockScanError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer conn.Close()

	rows := sqlmock.NewRows([]string{
		"model_name", "model_provider", "request_count",
		"total_tokens", "total_cost", "avg_response_time_ms",
	}).AddRow("gpt-4o-mini", "openai", "not-a-number", 300, 0.06, 2000.0)

	mock.ExpectQuery(`SELECT.*FROM ai_model_usage.*GROUP BY model_name, model_provider\s+ORDER BY total_cost DESC`).
		WillReturnRows(rows)

	if _, err := NewUsageTracker(conn, nil).GetModelBreakdown(Filter{}); err == nil {
		t.Error("Expected scan error to be returned")
	}
}

func intPtr(i int) *int {
	return &i
}

func float64Ptr(f float64) *float64 {
	return &f
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
